package redact

import "testing"

func TestText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "ssn",
			input: "my ssn is 123-45-6789 please keep it safe",
			want:  "my ssn is [SSN_REDACTED] please keep it safe",
		},
		{
			name:  "credit card with dashes",
			input: "card 4111-1111-1111-1111 declined",
			want:  "card [CC_REDACTED] declined",
		},
		{
			name:  "credit card no separators",
			input: "card 4111111111111111 declined",
			want:  "card [CC_REDACTED] declined",
		},
		{
			name:  "email",
			input: "reach me at alice@example.com tomorrow",
			want:  "reach me at [EMAIL_REDACTED] tomorrow",
		},
		{
			name:  "multiple",
			input: "email alice@example.com or call about ssn 123-45-6789",
			want:  "email [EMAIL_REDACTED] or call about ssn [SSN_REDACTED]",
		},
		{
			name:  "clean text unaffected",
			input: "remind me to call Jordan next week",
			want:  "remind me to call Jordan next week",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Text(tt.input)
			if got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
