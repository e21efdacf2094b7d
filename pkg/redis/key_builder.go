package redis

import "fmt"

// KeyBuilder provides environment-aware Redis key building functionality
type KeyBuilder struct {
	prefix string // Environment prefix (staging/prod)
}

// NewKeyBuilder creates a new key builder with environment-based prefix
func NewKeyBuilder(environment string) *KeyBuilder {
	prefix := "prod"
	if environment == "development" || environment == "staging" {
		prefix = "staging"
	}

	return &KeyBuilder{
		prefix: prefix,
	}
}

// BuildKey constructs a Redis key with the environment prefix
func (kb *KeyBuilder) BuildKey(key string) string {
	return fmt.Sprintf("%s:%s", kb.prefix, key)
}

// Ranking key builders
func (kb *KeyBuilder) KeyRankingSnapshot(contestID string, version int64) string {
	return kb.BuildKey(fmt.Sprintf(KeyRankingSnapshot, contestID, version))
}

func (kb *KeyBuilder) KeyRankingFinal(contestID string) string {
	return kb.BuildKey(fmt.Sprintf(KeyRankingFinal, contestID))
}
