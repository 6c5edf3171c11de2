package crawlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
)

// ProfileStore 站点配置持久化: 单个JSON文件,按域名索引
type ProfileStore struct {
	path string
	mu   sync.Mutex
}

// NewProfileStore 创建持久化存储
func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: path}
}

// Path 文件路径
func (s *ProfileStore) Path() string { return s.path }

// Load 将已保存的摘要合并到 profile
// 文件不存在时静默返回 false; 文件损坏时记录警告并保持默认值
func (s *ProfileStore) Load(p *SiteProfile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		utils.Warnf("⚠️ 读取站点配置失败,使用默认值: %v", err)
		return false
	}
	summary, ok := all[p.Domain]
	if !ok {
		return false
	}
	p.ApplySummary(summary)
	utils.Debugf("已加载站点配置: %s (delay=%.2fs)", p.Domain, summary.CurrentDelay)
	return true
}

// Save 读-改-写整个文件,保留其他域名的记录
func (s *ProfileStore) Save(p *SiteProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		utils.Warnf("⚠️ 站点配置文件损坏,将被覆盖: %v", err)
		all = make(map[string]ProfileSummary)
	}
	all[p.Domain] = p.ToSummary()
	return s.writeAll(all)
}

// Remove 删除指定域名的记录
func (s *ProfileStore) Remove(domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return false, err
	}
	if _, ok := all[domain]; !ok {
		return false, nil
	}
	delete(all, domain)
	return true, s.writeAll(all)
}

// Reset 把已保存记录的当前延迟恢复为基础延迟,并清空失败计数
// 学到的基础延迟保留
func (s *ProfileStore) Reset(domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return false, err
	}
	summary, ok := all[domain]
	if !ok {
		return false, nil
	}
	p := NewSiteProfile(domain)
	p.ApplySummary(summary)
	p.Reset()
	all[domain] = p.ToSummary()
	return true, s.writeAll(all)
}

// All 按域名排序返回全部摘要
func (s *ProfileStore) All() ([]ProfileSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]ProfileSummary, 0, len(all))
	for _, v := range all {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (s *ProfileStore) readAll() (map[string]ProfileSummary, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]ProfileSummary), nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", s.path, err)
	}

	all := make(map[string]ProfileSummary)
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", s.path, err)
	}
	return all, nil
}

func (s *ProfileStore) writeAll(all map[string]ProfileSummary) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败: %w", err)
		}
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("写入站点配置失败: %w", err)
	}
	return nil
}
