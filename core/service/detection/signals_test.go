package detection

import "testing"

func TestExtractBodyUnsubscribeURL(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "wording before URL",
			body: "To unsubscribe from this list, click https://news.example.com/u/abc123",
			want: "https://news.example.com/u/abc123",
		},
		{
			name: "opt-out wording",
			body: "You can opt out here: https://mail.example.com/optout?id=9",
			want: "https://mail.example.com/optout?id=9",
		},
		{
			name: "manage preferences wording",
			body: "Manage your preferences at https://example.com/prefs",
			want: "https://example.com/prefs",
		},
		{
			name: "unsub URL without nearby wording",
			body: "Footer links: https://example.com/unsubscribe/xyz",
			want: "https://example.com/unsubscribe/xyz",
		},
		{
			name: "no unsubscribe content",
			body: "See you at the meeting tomorrow. https://example.com/agenda",
			want: "",
		},
		{
			name: "empty body",
			body: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractBodyUnsubscribeURL(tt.body); got != tt.want {
				t.Errorf("ExtractBodyUnsubscribeURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasBulkSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    bool
	}{
		{"50% off everything this weekend", true},
		{"Your Weekly Digest", true},
		{"Limited time offer inside", true},
		{"Monthly roundup: March", true},
		{"Re: dinner on Friday?", false},
		{"Invoice 2093 attached", false},
	}
	for _, tt := range tests {
		if got := HasBulkSubject(tt.subject); got != tt.want {
			t.Errorf("HasBulkSubject(%q) = %v, want %v", tt.subject, got, tt.want)
		}
	}
}

func TestIsNoReplyAddress(t *testing.T) {
	tests := []struct {
		address string
		want    bool
	}{
		{"no-reply@github.com", true},
		{"noreply@stripe.com", true},
		{"donotreply@bank.example.com", true},
		{"newsletter@nytimes.com", true},
		{"notifications@linkedin.com", true},
		{"marketing@shop.example.com", true},
		{"alice@example.com", false},
		{"support@example.com", false},
		{"not-an-address", false},
	}
	for _, tt := range tests {
		if got := IsNoReplyAddress(tt.address); got != tt.want {
			t.Errorf("IsNoReplyAddress(%q) = %v, want %v", tt.address, got, tt.want)
		}
	}
}
