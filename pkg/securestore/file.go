package securestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
)

const fileFormatVersion = 1

// fileDoc is the on-disk layout. Values are sealed individually so the
// slot key is bound into each ciphertext.
type fileDoc struct {
	Version int               `json:"version"`
	Salt    string            `json:"salt"`
	Items   map[string]string `json:"items"`
}

// File stores sealed secrets in a single 0600 JSON file. The sealing key is
// derived from a passphrase and a random salt kept in the file header.
type File struct {
	path       string
	passphrase string

	mu     sync.Mutex
	sealer *cryptox.Sealer
	salt   []byte
}

// NewFile returns a file store at path. The file is created on first Set.
func NewFile(path, passphrase string) (*File, error) {
	if passphrase == "" {
		return nil, cryptox.ErrEmptyPassword
	}
	return &File{path: path, passphrase: passphrase}, nil
}

func (f *File) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return "", err
	}

	enc, ok := doc.Items[key]
	if !ok {
		return "", ErrNotFound
	}

	data, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", Unavailable("decode value", err)
	}
	return open(f.sealer, key, data)
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}

	data, err := seal(f.sealer, key, value)
	if err != nil {
		return Unavailable("seal value", err)
	}
	doc.Items[key] = base64.StdEncoding.EncodeToString(data)

	return f.save(doc)
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Items[key]; !ok {
		return nil
	}

	delete(doc.Items, key)
	return f.save(doc)
}

// load reads the document, creating an empty one (with a fresh salt) when
// the file does not exist yet. Caller holds f.mu.
func (f *File) load() (*fileDoc, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := f.ensureSealer(nil); err != nil {
			return nil, err
		}
		return &fileDoc{
			Version: fileFormatVersion,
			Salt:    base64.StdEncoding.EncodeToString(f.salt),
			Items:   make(map[string]string),
		}, nil
	}
	if err != nil {
		return nil, Unavailable("read file", err)
	}

	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, Unavailable("parse file", err)
	}
	if doc.Version != fileFormatVersion {
		return nil, Unavailable("parse file", fmt.Errorf("unsupported version %d", doc.Version))
	}

	salt, err := base64.StdEncoding.DecodeString(doc.Salt)
	if err != nil || len(salt) == 0 {
		return nil, Unavailable("parse file", errors.New("missing salt"))
	}
	if err := f.ensureSealer(salt); err != nil {
		return nil, err
	}
	if doc.Items == nil {
		doc.Items = make(map[string]string)
	}
	return &doc, nil
}

// ensureSealer derives the key once per salt. A nil salt means "new file".
func (f *File) ensureSealer(salt []byte) error {
	if f.sealer != nil && (salt == nil || string(salt) == string(f.salt)) {
		return nil
	}

	if salt == nil {
		var err error
		if salt, err = cryptox.NewSalt(16); err != nil {
			return Unavailable("generate salt", err)
		}
	}

	sealer, err := cryptox.NewPassphraseSealer(f.passphrase, salt)
	if err != nil {
		return Unavailable("derive key", err)
	}
	f.sealer, f.salt = sealer, salt
	return nil
}

// save writes doc through a temp file and rename so a crash never leaves a
// half-written store behind.
func (f *File) save(doc *fileDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Unavailable("encode file", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Unavailable("create dir", err)
	}

	tmp, err := os.CreateTemp(dir, ".securestore-*")
	if err != nil {
		return Unavailable("create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return Unavailable("chmod temp file", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return Unavailable("write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return Unavailable("close temp file", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return Unavailable("replace file", err)
	}
	return nil
}
