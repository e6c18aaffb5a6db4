package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermFenceRead, true},
		{RoleViewer, PermFenceManage, false},
		{RoleViewer, PermScannerConfig, false},
		{RoleOperator, PermFenceManage, true},
		{RoleOperator, PermScannerConfig, true},
		{RoleOperator, PermDispatcherAdmin, false},
		{RoleAdmin, PermDispatcherAdmin, true},
		{Role("unknown"), PermFenceRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleViewer)
	if len(perms) != 1 {
		t.Fatalf("viewer has %d permissions, want 1", len(perms))
	}
	perms[0] = PermDispatcherAdmin
	if HasPermission(RoleViewer, PermDispatcherAdmin) {
		t.Error("mutating the returned slice changed the role map")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%s) = false", r)
		}
	}
	if IsValidRole("panel") {
		t.Error("IsValidRole(panel) = true")
	}
}
