package outbox

import "testing"

func TestToSnakeCase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"UserCreated", "user_created"},
		{"OrderShipped", "order_shipped"},
		{"HTTPRequestLogged", "http_request_logged"},
		{"UserLoggedInV2", "user_logged_in_v2"},
		{"APIKey", "api_key"},
		{"user_created", "user_created"},
		{"Single", "single"},
	}
	for _, tc := range cases {
		if got := ToSnakeCase(tc.in); got != tc.want {
			t.Errorf("ToSnakeCase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
