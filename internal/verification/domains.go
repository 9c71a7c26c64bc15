package verification

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

//go:embed domains.yaml
var defaultDomains []byte

type TrustedDomain struct {
	Domain     string  `yaml:"domain"`
	Name       string  `yaml:"name"`
	TrustScore float64 `yaml:"trust_score"`
	Category   string  `yaml:"category"`
	Official   bool    `yaml:"official"`
}

type BlockedDomain struct {
	Domain string `yaml:"domain"`
	Reason string `yaml:"reason"`
}

type DomainList struct {
	Trusted []TrustedDomain `yaml:"trusted"`
	Blocked []BlockedDomain `yaml:"blocked"`
}

type SourceWriter interface {
	UpsertTrustedSource(ctx context.Context, source store.TrustedSource) error
	UpsertBlockedSource(ctx context.Context, source store.BlockedSource) error
}

// LoadDomains reads a domain list file, or the built-in list when path is empty.
func LoadDomains(path string) (DomainList, error) {
	data := defaultDomains
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return DomainList{}, fmt.Errorf("read domain list: %w", err)
		}
		data = content
	}
	return ParseDomains(data)
}

func ParseDomains(data []byte) (DomainList, error) {
	var list DomainList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return DomainList{}, fmt.Errorf("parse domain list: %w", err)
	}
	for i, trusted := range list.Trusted {
		if strings.TrimSpace(trusted.Domain) == "" {
			return DomainList{}, fmt.Errorf("trusted entry %d has no domain", i)
		}
		if trusted.TrustScore < 0 || trusted.TrustScore > 1 {
			return DomainList{}, fmt.Errorf("trusted domain %s: trust_score must be between 0 and 1", trusted.Domain)
		}
	}
	for i, blocked := range list.Blocked {
		if strings.TrimSpace(blocked.Domain) == "" {
			return DomainList{}, fmt.Errorf("blocked entry %d has no domain", i)
		}
	}
	return list, nil
}

// Seed upserts every entry of the list.
func (l DomainList) Seed(ctx context.Context, writer SourceWriter) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, trusted := range l.Trusted {
		source := store.TrustedSource{
			Domain:     strings.ToLower(strings.TrimSpace(trusted.Domain)),
			Name:       trusted.Name,
			TrustScore: trusted.TrustScore,
			Category:   trusted.Category,
			IsOfficial: trusted.Official,
			CreatedAt:  now,
		}
		if err := writer.UpsertTrustedSource(ctx, source); err != nil {
			return fmt.Errorf("seed trusted %s: %w", source.Domain, err)
		}
	}
	for _, blocked := range l.Blocked {
		source := store.BlockedSource{
			Domain:    strings.ToLower(strings.TrimSpace(blocked.Domain)),
			Reason:    blocked.Reason,
			CreatedAt: now,
		}
		if err := writer.UpsertBlockedSource(ctx, source); err != nil {
			return fmt.Errorf("seed blocked %s: %w", source.Domain, err)
		}
	}
	return nil
}
