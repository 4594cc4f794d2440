package db

import (
	"database/sql"
	"fmt"

	"github.com/russross/meddler"

	"github.com/geyserpipe/geyserpipe/internal/types"
)

func init() {
	// Register custom meddler converter for types.Pubkey
	meddler.Register("pubkey", PubkeyMeddler{})
}

// PubkeyMeddler handles conversion between types.Pubkey and its base58 database
// string representation.
type PubkeyMeddler struct{}

func (p PubkeyMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// Use sql.NullString to handle NULL values
	return new(sql.NullString), nil
}

func (p PubkeyMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	// Handle pointer to types.Pubkey
	if ptr, ok := fieldAddr.(**types.Pubkey); ok {
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		pk, err := types.ParsePubkey(ns.String)
		if err != nil {
			return fmt.Errorf("invalid pubkey column value: %w", err)
		}
		*ptr = &pk
		return nil
	}

	// Handle types.Pubkey directly
	if ptr, ok := fieldAddr.(*types.Pubkey); ok {
		if !ns.Valid {
			*ptr = types.Pubkey{}
			return nil
		}
		pk, err := types.ParsePubkey(ns.String)
		if err != nil {
			return fmt.Errorf("invalid pubkey column value: %w", err)
		}
		*ptr = pk
		return nil
	}

	return fmt.Errorf("expected *types.Pubkey or **types.Pubkey, got %T", fieldAddr)
}

func (p PubkeyMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	// Handle pointer to types.Pubkey
	if ptr, ok := field.(*types.Pubkey); ok {
		if ptr == nil {
			return nil, nil
		}
		return ptr.String(), nil
	}

	// Handle types.Pubkey directly
	if pk, ok := field.(types.Pubkey); ok {
		return pk.String(), nil
	}

	return nil, fmt.Errorf("expected types.Pubkey or *types.Pubkey, got %T", field)
}
