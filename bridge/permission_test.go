package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TEST020: Route permissions honor exact, namespace wildcard and global wildcard
func Test020_has_route_permission(t *testing.T) {
	assert.True(t, HasRoutePermission(NewPermissionSet("file.*"), "File", "Read"))
	assert.True(t, HasRoutePermission(NewPermissionSet("*"), "x", "y"))
	assert.False(t, HasRoutePermission(NewPermissionSet("file.read"), "file", "write"))
	assert.True(t, HasRoutePermission(NewPermissionSet("FILE.Read"), "file", "READ"))
	assert.False(t, HasRoutePermission(nil, "file", "read"))
	assert.False(t, HasRoutePermission(NewPermissionSet("files.*"), "file", "read"))
}

// TEST021: Namespace and action patterns
func Test021_valid_target(t *testing.T) {
	assert.True(t, ValidTarget("card", "config.get"))
	assert.True(t, ValidTarget("card_v2", "get-all"))
	assert.False(t, ValidTarget("card.v2", "get"), "dots are not allowed in namespaces")
	assert.False(t, ValidTarget("2card", "get"))
	assert.False(t, ValidTarget("card", ".get"))
	assert.False(t, ValidTarget("", "get"))
	assert.False(t, ValidTarget("card", "get all"))
}

func TestPermissionSetSorted(t *testing.T) {
	set := NewPermissionSet(" b.* ", "a.read", "", "A.READ")
	assert.Equal(t, []string{"a.read", "b.*"}, set.Sorted())
}
