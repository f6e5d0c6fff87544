// Package state is a small sqlite-backed world for programs: deployed code,
// balances and a log of the calls programs make to each other.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/holiman/uint256"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/availproject/avail-nitro-adapter/types"
)

// ErrNoCode is returned for addresses without deployed code.
var ErrNoCode = errors.New("no code at address")

// ErrInsufficientBalance is returned when a transfer exceeds the sender's
// balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// DBContract is a deployed program.
type DBContract struct {
	gorm.Model
	Address string `gorm:"column:address;not null;unique;index;size:42"`
	Code    []byte `gorm:"column:code;type:blob;not null"`
	Version uint32 `gorm:"column:version;not null;default:0"`
}

func (DBContract) TableName() string {
	return "contracts"
}

// DBBalance holds a 256-bit balance as a hex string.
type DBBalance struct {
	Address string `gorm:"column:address;primaryKey;size:42"`
	Amount  string `gorm:"column:balance;not null;default:'0x0'"`
}

func (DBBalance) TableName() string {
	return "balances"
}

// DBCall records one call made by a program.
type DBCall struct {
	gorm.Model
	Depth    uint32 `gorm:"column:depth;not null"`
	Kind     string `gorm:"column:kind;not null;size:16"`
	Caller   string `gorm:"column:caller;not null;index;size:42"`
	Contract string `gorm:"column:contract;not null;index;size:42"`
	Value    string `gorm:"column:value;not null;default:'0x0'"`
	Calldata []byte `gorm:"column:calldata;type:blob"`
	GasLimit uint64 `gorm:"column:gas_limit;not null"`
	GasUsed  uint64 `gorm:"column:gas_used;not null"`
	Status   string `gorm:"column:status;not null;size:16"`
	Output   []byte `gorm:"column:output;type:blob"`
}

func (DBCall) TableName() string {
	return "calls"
}

// Store is the sqlite database behind the world.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the database at path and migrates its schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&DBContract{}, &DBBalance{}, &DBCall{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Deploy stores code at addr, replacing any previous code.
func (s *Store) Deploy(addr types.Address, code []byte, version uint32) error {
	if len(code) == 0 {
		return errors.New("contract code cannot be empty")
	}
	contract := DBContract{Address: addr.String(), Code: code, Version: version}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "version", "updated_at"}),
	}).Create(&contract).Error
	if err != nil {
		return fmt.Errorf("failed to store contract code: %w", err)
	}
	return nil
}

// Code returns the code deployed at addr and its program version.
func (s *Store) Code(addr types.Address) ([]byte, uint32, error) {
	var contract DBContract
	err := s.db.Where("address = ?", addr.String()).First(&contract).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, ErrNoCode
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get contract: %w", err)
	}
	return contract.Code, contract.Version, nil
}

// Balance returns the balance of addr; unknown accounts hold zero.
func (s *Store) Balance(addr types.Address) (*uint256.Int, error) {
	return balance(s.db, addr)
}

func balance(db *gorm.DB, addr types.Address) (*uint256.Int, error) {
	var row DBBalance
	err := db.Where("address = ?", addr.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	amount, err := uint256.FromHex(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance of %s: %w", addr, err)
	}
	return amount, nil
}

// SetBalance overwrites the balance of addr.
func (s *Store) SetBalance(addr types.Address, amount *uint256.Int) error {
	return setBalance(s.db, addr, amount)
}

func setBalance(db *gorm.DB, addr types.Address, amount *uint256.Int) error {
	row := DBBalance{Address: addr.String(), Amount: amount.Hex()}
	err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// Transfer moves amount from one account to another atomically.
func (s *Store) Transfer(from, to types.Address, amount *uint256.Int) error {
	if amount.IsZero() || from == to {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		fromBalance, err := balance(tx, from)
		if err != nil {
			return err
		}
		if fromBalance.Lt(amount) {
			return ErrInsufficientBalance
		}
		toBalance, err := balance(tx, to)
		if err != nil {
			return err
		}
		sum, overflow := new(uint256.Int).AddOverflow(toBalance, amount)
		if overflow {
			return fmt.Errorf("balance of %s overflows", to)
		}
		if err := setBalance(tx, from, fromBalance.Sub(fromBalance, amount)); err != nil {
			return err
		}
		return setBalance(tx, to, sum)
	})
}

// Calls returns the call log in insertion order.
func (s *Store) Calls() ([]DBCall, error) {
	var calls []DBCall
	if err := s.db.Order("id").Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("failed to get calls: %w", err)
	}
	return calls, nil
}

func (s *Store) recordCall(call *DBCall) error {
	if err := s.db.Create(call).Error; err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}
