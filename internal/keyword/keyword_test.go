package keyword

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "empty input",
			in:   "",
			want: nil,
		},
		{
			name: "only delimiters",
			in:   " ，。 ！ ",
			want: nil,
		},
		{
			name: "western punctuation",
			in:   "cannot login, password reset fails!",
			want: []string{"cannot", "login", "password", "reset", "fails"},
		},
		{
			name: "fullwidth punctuation",
			in:   "发货延迟，怎么退款？",
			want: []string{"发货延迟", "怎么退款"},
		},
		{
			name: "single characters dropped",
			in:   "a 发 bb 货物",
			want: []string{"bb", "货物"},
		},
		{
			name: "two character cjk token kept",
			in:   "发货",
			want: []string{"发货"},
		},
		{
			name: "mixed delimiters",
			in:   "one.two；three:four、five",
			want: []string{"one", "two", "three", "four", "five"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractN_Cap(t *testing.T) {
	in := "aa bb cc dd ee ff gg hh ii jj kk ll"

	got := ExtractN(in, 3)
	want := []string{"aa", "bb", "cc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractN(max=3) = %v, want %v", got, want)
	}

	// Default cap is 10.
	if got := Extract(in); len(got) != DefaultMax {
		t.Errorf("Extract returned %d keywords, want %d", len(got), DefaultMax)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	in := "网络 连接 超时，请 检查 配置"
	first := Extract(in)
	for range 5 {
		if got := Extract(in); !reflect.DeepEqual(got, first) {
			t.Fatalf("extraction not deterministic: %v vs %v", got, first)
		}
	}
}
