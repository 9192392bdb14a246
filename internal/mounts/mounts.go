// Package mounts provides the sql file mount of citycache as an fs.FS. The embedded
// sql directory is used unless a directory on disk is named, in which case the files
// are read from there, allowing the queries to be edited without a rebuild.
package mounts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Mount is an fs.FS mounted either from an embedded filesystem or from a directory.
type Mount struct {
	Name string
	Dir  string // empty for an embedded mount
	fs.FS
}

// InvalidNameError reports a mount name which is not an fs.ValidPath.
type InvalidNameError struct {
	Name string
}

func (e InvalidNameError) Error() string {
	return fmt.Sprintf("mount name %q is not a valid fs.ValidPath path", e.Name)
}

// New mounts the subdirectory name of embedded, or, if dir is not empty, the
// directory dir. Both are mounted at the same level, so that a file "x.sql" in the
// embedded "sql" directory and a file "x.sql" in dir are opened as "x.sql".
func New(name string, embedded fs.FS, dir string) (*Mount, error) {

	if name == "" {
		return nil, errors.New("no mount name provided")
	}
	if !fs.ValidPath(name) {
		return nil, InvalidNameError{name}
	}

	if dir == "" {
		subFS, err := fs.Sub(embedded, name)
		if err != nil {
			return nil, fmt.Errorf("could not sub-mount embedded fs at %q: %w", name, err)
		}
		return &Mount{Name: name, FS: subFS}, nil
	}

	s, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("mount at %q error: %w", dir, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("mount at %q is not a directory", dir)
	}
	return &Mount{Name: name, Dir: filepath.Clean(dir), FS: os.DirFS(dir)}, nil
}

// OnDisk reports whether the mount reads from a directory.
func (m *Mount) OnDisk() bool {
	return m.Dir != ""
}

// String lists the files in the mount.
func (m *Mount) String() string {
	s, _ := Tree(m.FS)
	return fmt.Sprintf("mount %q:\n%s", m.Name, s)
}

// Export writes the contents of the mount to root/<name>, so that the files can be
// edited and later mounted with New. Root must be a directory and root/<name> must
// not already exist.
func (m *Mount) Export(root string) (string, error) {

	s, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("export root %q invalid: %w", root, err)
	}
	if !s.IsDir() {
		return "", fmt.Errorf("export root %q is not a directory", root)
	}

	target := filepath.Join(root, m.Name)
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		return "", fmt.Errorf("export path %q already exists", target)
	}

	err = fs.WalkDir(m.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		fullPath := filepath.Join(target, path)
		if d.IsDir() {
			if err := os.MkdirAll(fullPath, 0755); err != nil {
				return fmt.Errorf("could not make dir %q: %w", fullPath, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(m.FS, path)
		if err != nil {
			return fmt.Errorf("could not read %q from mount %s: %w", path, m.Name, err)
		}
		if err := os.WriteFile(fullPath, data, 0644); err != nil {
			return fmt.Errorf("could not write %q: %w", fullPath, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

// Tree describes an fs.FS as an indented list of its files and directories.
func Tree(fsys fs.FS) (string, error) {
	var out strings.Builder
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			out.WriteString("[d] ./\n")
			return nil
		}
		indent := strings.Repeat("  ", strings.Count(path, "/")+1)
		if d.IsDir() {
			fmt.Fprintf(&out, "%s[d] %s/\n", indent, d.Name())
			return nil
		}
		fmt.Fprintf(&out, "%s[f] %s\n", indent, d.Name())
		return nil
	})
	return out.String(), err
}
