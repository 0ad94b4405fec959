package handlers

import (
	"net/http"

	"signage-fleet/cache"

	"github.com/gin-gonic/gin"
)

// CacheHandler exposes the device record cache for diagnostics.
type CacheHandler struct {
	cache *cache.DeviceCache
}

func NewCacheHandler(dc *cache.DeviceCache) *CacheHandler {
	return &CacheHandler{
		cache: dc,
	}
}

func (h *CacheHandler) GetCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"stats":  h.cache.GetCacheStats(),
	})
}

// ClearCache drops every cached record; the next read goes to the store.
func (h *CacheHandler) ClearCache(c *gin.Context) {
	h.cache.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
