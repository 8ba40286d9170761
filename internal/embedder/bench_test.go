package embedder

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkComputeHash(b *testing.B) {
	text := "Delibera della giunta comunale n. 123/2024 di approvazione del bilancio di previsione"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ComputeHash(text)
	}
}

func BenchmarkLocalProvider(b *testing.B) {
	provider, _ := NewLocalProvider(nil)
	ctx := context.Background()
	texts := make([]string, 32)
	for i := range texts {
		texts[i] = fmt.Sprintf("Determina %d relativa all'affidamento del servizio di manutenzione", i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkConcurrentCache(b *testing.B) {
	cache := NewCache(1000)
	emb := &Embedding{Vector: make([]float32, LocalDimension), Dimension: LocalDimension}
	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("k%d", i), emb)
	}

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("k%d", i%1000)
			if i%10 == 0 {
				cache.Set(key, emb)
			} else {
				cache.Get(key)
			}
			i++
		}
	})
}
