package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCookies(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   map[string]string
	}{
		{
			name:   "escaped value",
			header: "a=1; b=hello%20world",
			want:   map[string]string{"a": "1", "b": "hello world"},
		},
		{
			name:   "absent header",
			header: "",
			want:   map[string]string{},
		},
		{
			name:   "value containing equals",
			header: "token=abc=def",
			want:   map[string]string{"token": "abc=def"},
		},
		{
			name:   "bad escape kept raw",
			header: "v=100%zz",
			want:   map[string]string{"v": "100%zz"},
		},
		{
			name:   "dangling pair skipped",
			header: "a=1; nonsense; b=2",
			want:   map[string]string{"a": "1", "b": "2"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseCookies(tc.header))
		})
	}
}
