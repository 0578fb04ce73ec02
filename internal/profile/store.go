package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"satsuei/internal/storage"
)

// activeProfileKey はKVストア上のアクティブプロファイルポインタのキー
const activeProfileKey = "active_profile"

// Store はプロファイルの読み込み・永続化・キャッシュを担う
// プロファイルはディレクトリ内に1件1ファイルのYAMLとして保存され、
// アクティブポインタはKVストアに独立して保存される
type Store struct {
	dir    string
	kv     *storage.Store
	logger zerolog.Logger

	mu     sync.RWMutex
	cache  map[string]*Profile
	loaded bool
}

// NewStore は新しいStoreを作成する
func NewStore(dir string, kv *storage.Store, logger zerolog.Logger) (*Store, error) {
	if err := storage.EnsureDir(dir); err != nil {
		return nil, err
	}

	return &Store{
		dir:    dir,
		kv:     kv,
		logger: logger,
		cache:  make(map[string]*Profile),
	}, nil
}

// List はプロファイルの要約一覧を返す（名前順）
func (s *Store) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	activeID := s.activeIDLocked()

	summaries := make([]Summary, 0, len(s.cache))
	for _, p := range s.cache {
		summaries = append(summaries, Summary{
			ID:     p.ID,
			Name:   p.Name,
			Type:   p.Type,
			Active: p.ID == activeID,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})

	return summaries, nil
}

// All は全プロファイルを検出ルールの優先度順に返す
// マッチャーへの入力として使用される
func (s *Store) All() ([]*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	profiles := make([]*Profile, 0, len(s.cache))
	for _, p := range s.cache {
		profiles = append(profiles, s.copyProfile(p))
	}

	// 優先度の昇順、同一優先度内はIDの辞書順で安定させる
	sort.SliceStable(profiles, func(i, j int) bool {
		pi := profiles[i].Detection.EffectivePriority()
		pj := profiles[j].Detection.EffectivePriority()
		if pi != pj {
			return pi < pj
		}
		return profiles[i].ID < profiles[j].ID
	})

	return profiles, nil
}

// Get は指定されたIDのプロファイルを取得する
func (s *Store) Get(id string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	p, exists := s.cache[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return s.copyProfile(p), nil
}

// Create は新しいプロファイルを作成してIDを返す
// IDは名前から導出したスラグで、衝突時は数値サフィックスを付ける
func (s *Store) Create(p Profile) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return "", err
	}

	p.ID = s.uniqueIDLocked(slugify(p.Name))
	if p.Type == "" {
		p.Type = TypeWebcam
	}
	if p.Detection.Kind == "" {
		p.Detection.Kind = RuleAuto
	}

	if err := s.persistLocked(&p); err != nil {
		return "", err
	}

	s.cache[p.ID] = &p
	s.logger.Info().Str("profile", p.ID).Msg("プロファイルを作成しました")

	return p.ID, nil
}

// Update は既存プロファイルを更新する
// データに含まれるフィールドのみ上書きされる
func (s *Store) Update(id string, data Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}

	current, exists := s.cache[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	updated := *current
	if data.Name != "" {
		updated.Name = data.Name
	}
	if data.Type != "" {
		updated.Type = data.Type
	}
	if data.Detection.Kind != "" {
		updated.Detection = data.Detection
	}
	if data.Settings != nil {
		updated.Settings = data.Settings
	}
	if data.Advanced != nil {
		updated.Advanced = data.Advanced
	}

	if err := updated.Validate(); err != nil {
		return err
	}

	if err := s.persistLocked(&updated); err != nil {
		return err
	}

	s.cache[id] = &updated
	s.logger.Info().Str("profile", id).Msg("プロファイルを更新しました")

	return nil
}

// Delete はプロファイルを削除する
// アクティブプロファイルを削除した場合、残りのプロファイルを
// 1件アクティブに昇格させるか、無ければポインタをクリアする
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}

	if _, exists := s.cache[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := os.Remove(s.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("プロファイルファイルの削除に失敗: %w", err)
	}

	delete(s.cache, id)
	s.logger.Info().Str("profile", id).Msg("プロファイルを削除しました")

	// アクティブプロファイルの付け替え
	if s.activeIDLocked() == id {
		successor := ""
		ids := make([]string, 0, len(s.cache))
		for pid := range s.cache {
			ids = append(ids, pid)
		}
		sort.Strings(ids)
		if len(ids) > 0 {
			successor = ids[0]
		}

		if successor != "" {
			if err := s.kv.Set(activeProfileKey, successor); err != nil {
				return fmt.Errorf("アクティブポインタの更新に失敗: %w", err)
			}
			s.logger.Info().Str("profile", successor).Msg("アクティブプロファイルを昇格しました")
		} else {
			if err := s.kv.Delete(activeProfileKey); err != nil {
				return fmt.Errorf("アクティブポインタのクリアに失敗: %w", err)
			}
			s.logger.Info().Msg("アクティブプロファイルをクリアしました")
		}
	}

	return nil
}

// GetActive は現在アクティブなプロファイルを返す
// アクティブポインタが存在しない場合はnilを返す
func (s *Store) GetActive() (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	id := s.activeIDLocked()
	if id == "" {
		return nil, nil
	}

	p, exists := s.cache[id]
	if !exists {
		// ポインタが孤立している場合はアクティブなしとして扱う
		return nil, nil
	}

	return s.copyProfile(p), nil
}

// SetActive は指定されたプロファイルをアクティブにする
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}

	if _, exists := s.cache[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := s.kv.Set(activeProfileKey, id); err != nil {
		return fmt.Errorf("アクティブポインタの保存に失敗: %w", err)
	}

	s.logger.Info().Str("profile", id).Msg("アクティブプロファイルを設定しました")
	return nil
}

// ensureLoaded はキャッシュが空の場合にディスクから再構築する（ロック済み前提）
func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("プロファイルディレクトリの読み込みに失敗: %w", err)
	}

	s.cache = make(map[string]*Profile)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("プロファイルファイルの読み込みに失敗")
			continue
		}

		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("プロファイルファイルの解析に失敗")
			continue
		}

		// ファイル名とIDの不整合はファイル名を優先する
		id := strings.TrimSuffix(entry.Name(), ".yaml")
		p.ID = id
		s.cache[id] = &p
	}

	s.loaded = true
	return nil
}

// persistLocked はプロファイルをファイルに書き出す（ロック済み前提）
func (s *Store) persistLocked(p *Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("プロファイルのシリアライズに失敗: %w", err)
	}

	if err := os.WriteFile(s.pathFor(p.ID), data, 0644); err != nil {
		return fmt.Errorf("プロファイルファイルの書き込みに失敗: %w", err)
	}

	return nil
}

// activeIDLocked はKVストアからアクティブIDを取得する（ロック済み前提）
func (s *Store) activeIDLocked() string {
	id, err := s.kv.Get(activeProfileKey)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			s.logger.Warn().Err(err).Msg("アクティブポインタの取得に失敗")
		}
		return ""
	}
	return id
}

// pathFor はプロファイルIDに対応するファイルパスを返す
func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

// uniqueIDLocked は衝突しないIDを生成する（ロック済み前提）
func (s *Store) uniqueIDLocked(base string) string {
	if base == "" {
		base = "profile"
	}

	if _, exists := s.cache[base]; !exists {
		return base
	}

	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, exists := s.cache[candidate]; !exists {
			return candidate
		}
	}
}

// copyProfile はキャッシュ外に渡すためのコピーを作成する
func (s *Store) copyProfile(p *Profile) *Profile {
	result := *p
	if p.Settings != nil {
		result.Settings = make(map[string]any, len(p.Settings))
		for k, v := range p.Settings {
			result.Settings[k] = v
		}
	}
	if p.Advanced != nil {
		result.Advanced = make(map[string]any, len(p.Advanced))
		for k, v := range p.Advanced {
			result.Advanced[k] = v
		}
	}
	return &result
}

// slugify は名前からファイルシステム的に安定したIDを生成する
func slugify(name string) string {
	var b strings.Builder
	lastDash := true // 先頭のダッシュを抑制

	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	return strings.Trim(b.String(), "-")
}
