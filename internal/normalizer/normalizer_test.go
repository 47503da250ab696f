package normalizer

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantOK  bool
		wantURL string
		wantOpt Options
	}{
		{
			name:   "empty path rejected",
			path:   "/",
			wantOK: false,
		},
		{
			name:   "totally empty rejected",
			path:   "",
			wantOK: false,
		},
		{
			name:    "plain passthrough",
			path:    "/example.com/img.png",
			wantOK:  true,
			wantURL: "http://example.com/img.png",
		},
		{
			name:    "explicit scheme kept",
			path:    "/https://example.com/img.png",
			wantOK:  true,
			wantURL: "https://example.com/img.png",
		},
		{
			name:    "width only",
			path:    "/200/example.com/img.png",
			wantOK:  true,
			wantURL: "http://example.com/img.png",
			wantOpt: Options{Width: 200},
		},
		{
			name:    "width and height",
			path:    "/200/100/example.com/img.png",
			wantOK:  true,
			wantURL: "http://example.com/img.png",
			wantOpt: Options{Width: 200, Height: 100},
		},
		{
			name:    "width and zero height means width only",
			path:    "/200/0/example.com/img.png",
			wantOK:  true,
			wantURL: "http://example.com/img.png",
			wantOpt: Options{Width: 200, Height: 0},
		},
		{
			name:    "zero width and zero height clears both",
			path:    "/0/0/example.com/img.png",
			wantOK:  true,
			wantURL: "http://example.com/img.png",
			wantOpt: Options{},
		},
		{
			name:    "still flag alone",
			path:    "/still/example.com/img.png",
			wantOK:  true,
			wantURL: "http://example.com/img.png",
			wantOpt: Options{Still: true},
		},
		{
			name:    "still with dimensions",
			path:    "/still/200/100/example.com/img.png",
			wantOK:  true,
			wantURL: "http://example.com/img.png",
			wantOpt: Options{Still: true, Width: 200, Height: 100},
		},
		{
			name:    "html entity ampersand decoded",
			path:    "/example.com/img.png?a=1&amp;b=2",
			wantOK:  true,
			wantURL: "http://example.com/img.png?a=1&b=2",
		},
		{
			name:    "literal space encoded",
			path:    "/example.com/my image.png",
			wantOK:  true,
			wantURL: "http://example.com/my%20image.png",
		},
		{
			name:    "single slash scheme repaired",
			path:    "/http:/example.com/img.png",
			wantOK:  true,
			wantURL: "http://example.com/img.png",
		},
		{
			name:    "uppercase single slash scheme repaired",
			path:    "/HTTP:/example.com/img.png",
			wantOK:  true,
			wantURL: "HTTP://example.com/img.png",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.path)
			if ok != tc.wantOK {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tc.path, ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if got.URL != tc.wantURL {
				t.Errorf("Normalize(%q).URL = %q, want %q", tc.path, got.URL, tc.wantURL)
			}
			if got.Options != tc.wantOpt {
				t.Errorf("Normalize(%q).Options = %+v, want %+v", tc.path, got.Options, tc.wantOpt)
			}
		})
	}
}

func TestOptionsEmpty(t *testing.T) {
	if !(Options{}).Empty() {
		t.Error("zero-value Options should be Empty")
	}
	if (Options{Width: 10}).Empty() {
		t.Error("Options with Width set should not be Empty")
	}
	if (Options{Still: true}).Empty() {
		t.Error("Options with Still set should not be Empty")
	}
}
