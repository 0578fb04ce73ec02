// Package storage は永続化の基盤を担う
//
// # 責務
// - bboltによるキー・バリューストア（アクティブプロファイル等の永続ポインタ）
// - 写真・カメラ設定ディレクトリのパス解決と存在保証
package storage

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

var stateBucket = []byte("state")

// ErrKeyNotFound はキーが存在しない場合に返される
var ErrKeyNotFound = errors.New("キーが見つかりません")

// Store はbboltベースのキー・バリューストア
type Store struct {
	db *bbolt.DB
}

// Open は指定パスでストアを開く
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("データベースのオープンに失敗: %w", err)
	}

	// バケットを作成
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("バケットの作成に失敗: %w", err)
	}

	return &Store{db: db}, nil
}

// Close はストアを閉じる
func (s *Store) Close() error {
	return s.db.Close()
}

// Get はキーに対応する値を取得する
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(stateBucket)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		value = string(data)
		return nil
	})
	return value, err
}

// Set はキーに値を保存する
func (s *Store) Set(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(stateBucket)
		return b.Put([]byte(key), []byte(value))
	})
}

// Delete はキーを削除する
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(stateBucket)
		return b.Delete([]byte(key))
	})
}

// EnsureDir はディレクトリの存在を保証する
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("ディレクトリの作成に失敗 %s: %w", path, err)
	}
	return nil
}
