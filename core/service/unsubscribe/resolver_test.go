package unsubscribe

import (
	"testing"

	"github.com/google/uuid"

	"mailsweep/core/domain"
)

func aggWith(listUnsub, post, bodyURL string) *domain.SenderAggregate {
	agg := domain.NewSenderAggregate(uuid.New(), "news@example.com")
	agg.EmailCount = 5
	if listUnsub != "" {
		agg.SawListUnsubscribe = true
		agg.LastListUnsubscribe = listUnsub
	}
	if post != "" {
		agg.SawOneClick = true
		agg.LastListUnsubscribePost = post
	}
	agg.LastBodyUnsubscribeURL = bodyURL
	return agg
}

func TestResolvePriority(t *testing.T) {
	tests := []struct {
		name     string
		agg      *domain.SenderAggregate
		wantKind domain.UnsubscribeMethodKind
		wantURL  string
		wantAddr string
	}{
		{
			name:     "one-click wins over everything",
			agg:      aggWith("<https://a.example.com/u>, <mailto:u@a.example.com>", "List-Unsubscribe=One-Click", "https://a.example.com/body"),
			wantKind: domain.MethodHeader,
			wantURL:  "https://a.example.com/u",
		},
		{
			name:     "one-click token is case-insensitive",
			agg:      aggWith("<https://a.example.com/u>", "list-unsubscribe=one-click", ""),
			wantKind: domain.MethodHeader,
			wantURL:  "https://a.example.com/u",
		},
		{
			name:     "post header without http target degrades to mailto",
			agg:      aggWith("<mailto:u@a.example.com>", "List-Unsubscribe=One-Click", ""),
			wantKind: domain.MethodMailto,
			wantAddr: "u@a.example.com",
		},
		{
			name:     "wrong post value is not one-click",
			agg:      aggWith("<https://a.example.com/u>", "something-else", ""),
			wantKind: domain.MethodLink,
			wantURL:  "https://a.example.com/u",
		},
		{
			name:     "http link without post header",
			agg:      aggWith("<https://a.example.com/u>", "", ""),
			wantKind: domain.MethodLink,
			wantURL:  "https://a.example.com/u",
		},
		{
			name:     "mailto only",
			agg:      aggWith("<mailto:unsub@a.example.com?subject=remove%20me>", "", ""),
			wantKind: domain.MethodMailto,
			wantAddr: "unsub@a.example.com",
		},
		{
			name:     "body URL when headers are absent",
			agg:      aggWith("", "", "https://a.example.com/optout"),
			wantKind: domain.MethodLink,
			wantURL:  "https://a.example.com/optout",
		},
		{
			name:     "filter as last resort",
			agg:      aggWith("", "", ""),
			wantKind: domain.MethodFilter,
		},
		{
			name:     "malformed header entries are skipped",
			agg:      aggWith("<not a url>, <ftp://example.com/x>", "", ""),
			wantKind: domain.MethodFilter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Resolve(tt.agg)
			if m.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", m.Kind, tt.wantKind)
			}
			if tt.wantURL != "" && m.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", m.URL, tt.wantURL)
			}
			if tt.wantAddr != "" && m.Address != tt.wantAddr {
				t.Errorf("Address = %q, want %q", m.Address, tt.wantAddr)
			}
		})
	}
}

func TestResolveMailtoDefaultSubject(t *testing.T) {
	m := Resolve(aggWith("<mailto:unsub@a.example.com>", "", ""))
	if m.Kind != domain.MethodMailto {
		t.Fatalf("Kind = %v, want mailto", m.Kind)
	}
	if m.Subject != "unsubscribe" {
		t.Errorf("Subject = %q, want default", m.Subject)
	}

	m = Resolve(aggWith("<mailto:unsub@a.example.com?subject=leave>", "", ""))
	if m.Subject != "leave" {
		t.Errorf("Subject = %q, want header-provided value", m.Subject)
	}
}

func TestResolveExcludingDegrades(t *testing.T) {
	agg := aggWith("<https://a.example.com/u>, <mailto:u@a.example.com>", "List-Unsubscribe=One-Click", "")

	m := ResolveExcluding(agg, []string{string(domain.MethodHeader)})
	if m.Kind != domain.MethodLink {
		t.Errorf("after header failure: Kind = %v, want link", m.Kind)
	}

	m = ResolveExcluding(agg, []string{string(domain.MethodHeader), string(domain.MethodLink)})
	if m.Kind != domain.MethodMailto {
		t.Errorf("after header+link failure: Kind = %v, want mailto", m.Kind)
	}

	m = ResolveExcluding(agg, []string{
		string(domain.MethodHeader), string(domain.MethodLink), string(domain.MethodMailto),
	})
	if m.Kind != domain.MethodFilter {
		t.Errorf("after all direct methods: Kind = %v, want filter", m.Kind)
	}

	m = ResolveExcluding(agg, []string{
		string(domain.MethodHeader), string(domain.MethodLink),
		string(domain.MethodMailto), string(domain.MethodFilter),
	})
	if m.Kind != domain.MethodUnknown {
		t.Errorf("everything excluded: Kind = %v, want unknown", m.Kind)
	}
}
