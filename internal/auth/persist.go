package auth

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CredentialPersister сохраняет учётные данные администратора после смены пароля.
type CredentialPersister interface {
	Persist(username, passwordHash string) error
}

type credentialDoc struct {
	Admin struct {
		Username     string `yaml:"username"`
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"admin"`
}

// FilePersister пишет YAML атомарно (tmp + rename), права 0600.
// Формат совпадает с секцией admin основного конфига.
type FilePersister struct {
	Path string
}

func (p FilePersister) Persist(username, passwordHash string) error {
	var doc credentialDoc
	doc.Admin.Username = username
	doc.Admin.PasswordHash = passwordHash
	body, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.Path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // после успешного rename: no-op

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, p.Path)
}
