// Package cardbridge provides flat re-exports of the packages an embedding
// editor needs to host card plugins.
package cardbridge

import (
	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/host"
	"github.com/machinefabric/cardbridge-go/resource"
	"github.com/machinefabric/cardbridge-go/vocab"
)

// Host types and functions
type Host = host.Host
type HostOptions = host.Options
type Card = host.Card
type Runtime = host.Runtime
type Event = host.Event
type SessionContext = host.SessionContext

var NewHost = host.New
var ErrNoRuntime = host.ErrNoRuntime

// Bridge protocol types
type Window = bridge.Window
type MessageEvent = bridge.MessageEvent
type Identity = bridge.Identity
type BridgeError = bridge.Error
type ErrorCode = bridge.ErrorCode
type Theme = bridge.Theme

var NewBridgeError = bridge.NewError
var ResolveTrustedOrigin = bridge.ResolveTrustedOrigin

// Collaborators
type ResourceRegistry = resource.Registry
type VocabularyLoader = vocab.Loader

var NewResourceRegistry = resource.NewRegistry
var NewVocabularyLoader = vocab.NewLoader
