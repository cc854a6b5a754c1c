package policy

import (
	"os"
	"path/filepath"
	"testing"

	"toolfab/internal/fault"
)

func TestCheckPath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		roots   []string
		wantErr bool
	}{
		{"inside root", root + "/notes.txt", []string{root}, false},
		{"root itself", root, []string{root}, false},
		{"nested inside root", root + "/a/b/c.txt", []string{root}, false},
		{"escape with dotdot", root + "/../etc/passwd", []string{root}, true},
		{"outside root", "/etc/passwd", []string{root}, true},
		{"sibling prefix is not containment", root + "2/file", []string{root}, true},
		{"empty allow-list denies", root + "/x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPath(tt.path, tt.roots)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && fault.CodeOf(err) != fault.PathForbidden {
				t.Errorf("code = %s, want PATH_FORBIDDEN", fault.CodeOf(err))
			}
		})
	}
}

func TestCheckPathFollowsSymlinks(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "allowed")
	outside := filepath.Join(base, "outside")
	for _, dir := range []string{root, outside} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	// The path sits lexically under the root but resolves outside it.
	if err := CheckPath(filepath.Join(link, "secret.txt"), []string{root}); err == nil {
		t.Error("symlink escape not rejected")
	} else if fault.CodeOf(err) != fault.PathForbidden {
		t.Errorf("code = %s, want PATH_FORBIDDEN", fault.CodeOf(err))
	}

	// A symlink that stays inside the root remains allowed.
	inner := filepath.Join(root, "inner")
	if err := os.Mkdir(inner, 0o755); err != nil {
		t.Fatal(err)
	}
	innerLink := filepath.Join(root, "alias")
	if err := os.Symlink(inner, innerLink); err != nil {
		t.Fatal(err)
	}
	if err := CheckPath(filepath.Join(innerLink, "notes.txt"), []string{root}); err != nil {
		t.Errorf("in-root symlink rejected: %v", err)
	}
}

func TestCheckURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		domains []string
		wantErr bool
	}{
		{"https allowed with empty list", "https://anything.example", nil, false},
		{"http allowed with empty list", "http://anything.example", nil, false},
		{"ftp rejected", "ftp://example.com/file", nil, true},
		{"file rejected", "file:///etc/passwd", nil, true},
		{"exact domain match", "https://example.com/x", []string{"example.com"}, false},
		{"subdomain match", "https://api.example.com/x", []string{"example.com"}, false},
		{"unrelated domain", "https://evil.com", []string{"example.com"}, true},
		{"suffix without dot is not a subdomain", "https://notexample.com", []string{"example.com"}, true},
		{"case-insensitive host", "https://API.Example.COM", []string{"example.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckURL(tt.url, tt.domains)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil && fault.CodeOf(err) != fault.DomainForbidden {
				t.Errorf("code = %s, want DOMAIN_FORBIDDEN", fault.CodeOf(err))
			}
		})
	}
}

func TestCheckSQL(t *testing.T) {
	tests := []struct {
		name    string
		q       string
		wantErr bool
	}{
		{"plain select", "SELECT * FROM users", false},
		{"cte", "WITH t AS (SELECT 1) SELECT * FROM t", false},
		{"pragma", "PRAGMA table_info(users)", false},
		{"leading whitespace", "   select 1", false},
		{"empty", "   ", true},
		{"insert", "INSERT INTO users VALUES (1)", true},
		{"select with embedded delete", "SELECT 1; DELETE FROM users", true},
		{"drop anywhere", "select * from t where note = drop", true},
		{"mutating keyword inside identifier is fine", "select created_at, updated_by from audit", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSQL(tt.q)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckSQL(%q) error = %v, wantErr %v", tt.q, err, tt.wantErr)
			}
			if err != nil && fault.CodeOf(err) != fault.SQLForbidden {
				t.Errorf("code = %s, want SQL_FORBIDDEN", fault.CodeOf(err))
			}
		})
	}
}

func TestCheckCommand(t *testing.T) {
	blocked := []string{"rm -rf", "mkfs", "shutdown"}

	if err := CheckCommand("list the files please", blocked); err != nil {
		t.Errorf("benign text rejected: %v", err)
	}
	if err := CheckCommand("please RM -RF / now", blocked); err == nil {
		t.Error("blocked substring should be rejected case-insensitively")
	} else if fault.CodeOf(err) != fault.CommandForbidden {
		t.Errorf("code = %s, want COMMAND_FORBIDDEN", fault.CodeOf(err))
	}
	if err := CheckCommand("anything", nil); err != nil {
		t.Errorf("empty blocklist should allow all: %v", err)
	}
}
