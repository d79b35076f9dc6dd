package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// TestLRU_GetSetDelete проверяет базовые операции и инвалидацию.
func TestLRU_GetSetDelete(t *testing.T) {
	c := NewLRU(100, 5*time.Minute)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "doc-1"); ok {
		t.Fatal("ожидался промах для нового ключа")
	}

	doc := &model.Document{ID: "doc-1", DisplayName: "invoice.pdf", Status: model.StatusDraft}
	c.Set(ctx, doc)

	got, ok := c.Get(ctx, "doc-1")
	if !ok {
		t.Fatal("ожидалось попадание после Set")
	}
	if got.DisplayName != "invoice.pdf" {
		t.Errorf("DisplayName = %q", got.DisplayName)
	}

	// Кэш хранит копию: изменение исходника не видно
	doc.Status = model.StatusApproved
	got, _ = c.Get(ctx, "doc-1")
	if got.Status != model.StatusDraft {
		t.Errorf("кэш разделяет память с исходным документом")
	}

	c.Delete(ctx, "doc-1", "missing")
	if _, ok := c.Get(ctx, "doc-1"); ok {
		t.Error("запись осталась после Delete")
	}
}

// TestLRU_TTL проверяет истечение записей.
func TestLRU_TTL(t *testing.T) {
	c := NewLRU(100, 50*time.Millisecond)
	ctx := context.Background()

	c.Set(ctx, &model.Document{ID: "ttl"})
	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get(ctx, "ttl"); ok {
		t.Error("запись должна была истечь")
	}
}

// TestLRU_Eviction проверяет вытеснение при переполнении.
func TestLRU_Eviction(t *testing.T) {
	c := NewLRU(2, time.Minute)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		c.Set(ctx, &model.Document{ID: id})
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, ожидалось 2", c.Len())
	}
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("самая старая запись должна быть вытеснена")
	}
}

// TestRedis_Unavailable — недоступный Redis работает как промах.
func TestRedis_Unavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisWithClient(rdb, time.Minute, slog.Default())
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, &model.Document{ID: "doc-1"})
	if _, ok := c.Get(ctx, "doc-1"); ok {
		t.Error("ожидался промах при недоступном Redis")
	}
	c.Delete(ctx, "doc-1")
	if err := c.Ping(ctx); err == nil {
		t.Error("ожидалась ошибка Ping")
	}
}
