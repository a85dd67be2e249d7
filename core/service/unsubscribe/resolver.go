// Package unsubscribe resolves and executes unsubscribe methods for detected
// senders.
package unsubscribe

import (
	"net/url"
	"strings"

	"mailsweep/core/domain"
)

// oneClickToken is the exact List-Unsubscribe-Post value required by RFC 8058.
const oneClickToken = "list-unsubscribe=one-click"

// listUnsubTarget is one parsed entry of a List-Unsubscribe header.
type listUnsubTarget struct {
	httpURL       string
	mailtoAddress string
	mailtoSubject string
}

// parseListUnsubscribe splits an RFC 2369 header value into its targets.
// Entries are comma separated and each URI is wrapped in angle brackets;
// malformed entries are skipped.
func parseListUnsubscribe(value string) []listUnsubTarget {
	var targets []listUnsubTarget
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "<")
		part = strings.TrimSuffix(part, ">")
		if part == "" {
			continue
		}

		u, err := url.Parse(part)
		if err != nil {
			continue
		}
		switch u.Scheme {
		case "http", "https":
			targets = append(targets, listUnsubTarget{httpURL: part})
		case "mailto":
			t := listUnsubTarget{mailtoAddress: u.Opaque}
			if subj := u.Query().Get("subject"); subj != "" {
				t.mailtoSubject = subj
			}
			if t.mailtoAddress != "" {
				targets = append(targets, t)
			}
		}
	}
	return targets
}

// Resolve picks the best unsubscribe method from a sender's accumulated
// evidence. Priority: one-click POST, then http link, then mailto, then a
// body URL, then a provider filter as the fallback of last resort.
func Resolve(agg *domain.SenderAggregate) domain.UnsubscribeMethod {
	return ResolveExcluding(agg, nil)
}

// ResolveExcluding resolves the best method whose kind is not in exclude.
// Used after a failure to degrade to the next method instead of retrying the
// one that failed.
func ResolveExcluding(agg *domain.SenderAggregate, exclude []string) domain.UnsubscribeMethod {
	excluded := func(kind domain.UnsubscribeMethodKind) bool {
		for _, e := range exclude {
			if e == string(kind) {
				return true
			}
		}
		return false
	}

	targets := parseListUnsubscribe(agg.LastListUnsubscribe)

	oneClick := agg.SawOneClick &&
		strings.EqualFold(strings.TrimSpace(agg.LastListUnsubscribePost), oneClickToken)
	if oneClick && !excluded(domain.MethodHeader) {
		for _, t := range targets {
			if t.httpURL != "" {
				return domain.UnsubscribeMethod{Kind: domain.MethodHeader, URL: t.httpURL}
			}
		}
	}

	if !excluded(domain.MethodLink) {
		for _, t := range targets {
			if t.httpURL != "" {
				return domain.UnsubscribeMethod{Kind: domain.MethodLink, URL: t.httpURL}
			}
		}
	}

	if !excluded(domain.MethodMailto) {
		for _, t := range targets {
			if t.mailtoAddress != "" {
				subject := t.mailtoSubject
				if subject == "" {
					subject = "unsubscribe"
				}
				return domain.UnsubscribeMethod{
					Kind:    domain.MethodMailto,
					Address: t.mailtoAddress,
					Subject: subject,
				}
			}
		}
	}

	if !excluded(domain.MethodLink) && agg.LastBodyUnsubscribeURL != "" {
		return domain.UnsubscribeMethod{Kind: domain.MethodLink, URL: agg.LastBodyUnsubscribeURL}
	}

	if !excluded(domain.MethodFilter) {
		return domain.UnsubscribeMethod{Kind: domain.MethodFilter}
	}

	return domain.UnsubscribeMethod{Kind: domain.MethodUnknown}
}
