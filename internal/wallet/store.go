package wallet

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"chainmail/go-backend/internal/securestore"
)

const walletStateVersion = 1

type persistedWallet struct {
	Version   int       `json:"version"`
	Mnemonic  string    `json:"mnemonic"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// LoadOrCreate opens the encrypted wallet snapshot at path, creating and
// persisting a fresh account on first run. The second return value reports
// whether a new account was created.
func LoadOrCreate(path, secret string) (*LocalWallet, bool, error) {
	path, secret = securestore.NormalizeStorageConfig(path, secret)
	if !securestore.IsStorageConfigured(path, secret) {
		return nil, false, errors.New("wallet: storage path and secret are required")
	}

	var state persistedWallet
	err := securestore.ReadDecryptedJSON(path, secret, &state)
	switch {
	case err == nil:
		if state.Version != walletStateVersion {
			return nil, false, fmt.Errorf("wallet: unsupported snapshot version %d", state.Version)
		}
		w, err := NewLocalWallet(state.Mnemonic)
		if err != nil {
			return nil, false, err
		}
		return w, false, nil
	case errors.Is(err, fs.ErrNotExist):
		mnemonic, w, err := CreateLocalWallet()
		if err != nil {
			return nil, false, err
		}
		state = persistedWallet{
			Version:   walletStateVersion,
			Mnemonic:  mnemonic,
			Address:   w.Address(),
			CreatedAt: time.Now().UTC(),
		}
		if err := securestore.WriteEncryptedJSON(path, secret, state); err != nil {
			return nil, false, err
		}
		return w, true, nil
	default:
		return nil, false, err
	}
}

// ImportMnemonic replaces the persisted wallet snapshot with an account
// derived from the provided mnemonic.
func ImportMnemonic(path, secret, mnemonic string) (*LocalWallet, error) {
	path, secret = securestore.NormalizeStorageConfig(path, secret)
	if !securestore.IsStorageConfigured(path, secret) {
		return nil, errors.New("wallet: storage path and secret are required")
	}
	w, err := NewLocalWallet(mnemonic)
	if err != nil {
		return nil, err
	}
	state := persistedWallet{
		Version:   walletStateVersion,
		Mnemonic:  mnemonic,
		Address:   w.Address(),
		CreatedAt: time.Now().UTC(),
	}
	if err := securestore.WriteEncryptedJSON(path, secret, state); err != nil {
		return nil, err
	}
	return w, nil
}
