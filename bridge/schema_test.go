package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() map[string]any {
	return map[string]any{
		FieldType:         string(TypeBridgeRequest),
		FieldPluginID:     "rich",
		FieldSessionNonce: "s-1",
		FieldRequestNonce: "r-1",
		FieldRequestID:    "1",
		FieldNamespace:    "card",
		FieldAction:       "read",
	}
}

// TEST040: bridge-request requires every identity and routing field as a string
func Test040_request_shape(t *testing.T) {
	sv := MustShapeValidator()
	require.NoError(t, sv.Validate(TypeBridgeRequest, validRequest()))

	msg := validRequest()
	msg[FieldRequestNonce] = 42
	err := sv.Validate(TypeBridgeRequest, msg)
	require.Error(t, err)
	var shapeErr *ShapeError
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, TypeBridgeRequest, shapeErr.Type)

	msg = validRequest()
	delete(msg, FieldAction)
	assert.Error(t, sv.Validate(TypeBridgeRequest, msg))
}

// TEST041: config-update requires an object config and a boolean persist
func Test041_config_update_shape(t *testing.T) {
	sv := MustShapeValidator()
	ok := map[string]any{"config": map[string]any{"title": "x"}}
	assert.NoError(t, sv.Validate(TypeConfigUpdate, ok))

	assert.Error(t, sv.Validate(TypeConfigUpdate, map[string]any{"config": []any{1}}))
	assert.Error(t, sv.Validate(TypeConfigUpdate, map[string]any{"config": nil}))
	assert.Error(t, sv.Validate(TypeConfigUpdate, map[string]any{"config": map[string]any{}, "persist": "no"}))
	assert.Error(t, sv.Validate(TypeConfigUpdate, map[string]any{}))
}

// TEST042: resize height must be numeric when present; unknown types pass
func Test042_resize_and_unknown_shapes(t *testing.T) {
	sv := MustShapeValidator()
	assert.NoError(t, sv.Validate(TypeResize, map[string]any{}))
	assert.NoError(t, sv.Validate(TypeResize, map[string]any{"height": 320.5}))
	assert.Error(t, sv.Validate(TypeResize, map[string]any{"height": "320"}))
	assert.NoError(t, sv.Validate(TypeEditorCancel, map[string]any{"anything": true}))
}

func TestDecodeRequest(t *testing.T) {
	msg := validRequest()
	msg[FieldParams] = map[string]any{"path": "a.txt"}
	req, ok := DecodeRequest(msg)
	require.True(t, ok)
	assert.Equal(t, "rich", req.PluginID)
	assert.Equal(t, "r-1", req.RequestNonce)
	assert.Equal(t, map[string]any{"path": "a.txt"}, req.Params)

	msg[FieldNamespace] = nil
	_, ok = DecodeRequest(msg)
	assert.False(t, ok)
}
