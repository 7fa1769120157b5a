package intent

import (
	"encoding/json"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	pkgerrors "github.com/pkg/errors"
)

// BadgerStore 注册表快照的 Badger 落盘实现。
// 意图终态变更时整体覆盖写一个 key；重启后 Registry.Restore 读回，
// 保证对账（ActiveIntents）跨进程重启仍然成立。
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

const defaultRegistryKey = "riskcore:intent_registry"

// OpenBadgerStore 打开（或创建）Badger 库。
func OpenBadgerStore(path string) (*BadgerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, pkgerrors.New("intent store: path is required")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open badger")
	}
	return &BadgerStore{db: db, key: []byte(defaultRegistryKey)}, nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save 覆盖写注册表快照。
func (s *BadgerStore) Save(snap RegistrySnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal registry snapshot")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, b)
	})
	return pkgerrors.Wrap(err, "save registry snapshot")
}

// Load 读回快照；库为空时返回零值快照（首次启动）。
func (s *BadgerStore) Load() (RegistrySnapshot, error) {
	var snap RegistrySnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			if pkgerrors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return RegistrySnapshot{}, pkgerrors.Wrap(err, "load registry snapshot")
	}
	return snap, nil
}
