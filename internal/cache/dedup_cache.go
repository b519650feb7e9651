package cache

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// DedupCache 执行去重缓存，使用 go-cache 实现 TTL 自动过期
// 仅做快速路径：数据库唯一键是最终防线
type DedupCache struct {
	cache *cache.Cache // go-cache 内置 TTL 和自动清理
	ttl   time.Duration
}

// NewDedupCache 创建执行去重缓存
// ttl: 记录保留时间（建议 30 分钟）
// 清理间隔自动设为 2×TTL
func NewDedupCache(ttl time.Duration) *DedupCache {
	return &DedupCache{
		cache: cache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

// Seen 检查该信号对该配置的该动作是否已处理
func (c *DedupCache) Seen(tradeID, settingsID uint, action string) bool {
	_, exists := c.cache.Get(c.dedupKey(tradeID, settingsID, action))
	return exists
}

// Claim 原子占位：首次返回 true，重复返回 false
// 并发扇出下用 Add 而非 Get+Set，避免两个派发同时通过
func (c *DedupCache) Claim(tradeID, settingsID uint, action string) bool {
	err := c.cache.Add(c.dedupKey(tradeID, settingsID, action), time.Now(), cache.DefaultExpiration)
	return err == nil
}

// Release 释放占位，执行入库失败时回滚，允许重试
func (c *DedupCache) Release(tradeID, settingsID uint, action string) {
	c.cache.Delete(c.dedupKey(tradeID, settingsID, action))
}

// dedupKey 生成去重键
// 格式: "tradeID-settingsID-action"
func (c *DedupCache) dedupKey(tradeID, settingsID uint, action string) string {
	return fmt.Sprintf("%d-%d-%s", tradeID, settingsID, action)
}

// Stats 获取统计信息
func (c *DedupCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"item_count":  c.cache.ItemCount(),
		"ttl_minutes": c.ttl.Minutes(),
	}
}
