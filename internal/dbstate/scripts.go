package dbstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// ScriptSource loads the SQL bound to a descriptor.
type ScriptSource interface {
	Load(ref string) (string, error)
}

// FSScripts resolves script references inside a filesystem.
type FSScripts struct {
	FS fs.FS
}

// DirScripts reads scripts from dir on the local filesystem.
func DirScripts(dir string) FSScripts {
	return FSScripts{FS: os.DirFS(dir)}
}

func (s FSScripts) Load(ref string) (string, error) {
	if s.FS == nil {
		return "", errors.New("script filesystem not configured")
	}
	name := path.Clean(strings.TrimPrefix(strings.TrimSpace(ref), "/"))
	if !fs.ValidPath(name) {
		return "", fmt.Errorf("invalid script reference %q", ref)
	}
	raw, err := fs.ReadFile(s.FS, name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", fmt.Errorf("script %s is empty", name)
	}
	return string(raw), nil
}
