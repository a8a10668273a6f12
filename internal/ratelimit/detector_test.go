package ratelimit

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name         string
		status       int64
		body         string
		wantDetected bool
		wantCode     string
		wantCategory Category
		wantDelay    int
	}{
		{
			name:         "cloudflare 1015 rate limit",
			status:       429,
			body:         "<html><body>Error code: 1015 - You are being rate limited</body></html>",
			wantDetected: true,
			wantCode:     "CF_1015",
			wantCategory: CategoryRateLimit,
			wantDelay:    60000,
		},
		{
			name:         "cloudflare 1020 access denied",
			status:       403,
			body:         "<html><body>Error code: 1020 - Access denied</body></html>",
			wantDetected: true,
			wantCode:     "CF_1020",
			wantCategory: CategoryAccessDenied,
			wantDelay:    30000,
		},
		{
			name:         "cloudflare 1009 geo blocked",
			status:       403,
			body:         "<html><body>Error code: 1009 - Access denied due to your region</body></html>",
			wantDetected: true,
			wantCode:     "CF_1009",
			wantCategory: CategoryGeoBlocked,
			wantDelay:    0,
		},
		{
			name:         "generic access denied",
			status:       403,
			body:         "<html><body>Access denied. Please try again later.</body></html>",
			wantDetected: true,
			wantCode:     "ACCESS_DENIED",
			wantCategory: CategoryAccessDenied,
			wantDelay:    5000,
		},
		{
			name:         "generic rate limit text",
			status:       200,
			body:         "<html><body>Rate limit exceeded. Please slow down.</body></html>",
			wantDetected: true,
			wantCode:     "RATE_LIMITED",
			wantCategory: CategoryRateLimit,
			wantDelay:    10000,
		},
		{
			name:         "too many requests",
			status:       200,
			body:         "<html><body>Too many requests from your IP</body></html>",
			wantDetected: true,
			wantCode:     "TOO_MANY_REQUESTS",
			wantCategory: CategoryRateLimit,
			wantDelay:    10000,
		},
		{
			name:         "http 429 without body pattern",
			status:       429,
			body:         "<html><body>Please wait</body></html>",
			wantDetected: true,
			wantCode:     "HTTP_429",
			wantCategory: CategoryRateLimit,
			wantDelay:    60000,
		},
		{
			name:         "http 503 service unavailable",
			status:       503,
			body:         "<html><body>Service temporarily unavailable</body></html>",
			wantDetected: true,
			wantCode:     "HTTP_503",
			wantCategory: CategoryRateLimit,
			wantDelay:    30000,
		},
		{
			name:         "blocked generic",
			status:       403,
			body:         "<html><body>Sorry, you have been blocked. Ray ID: abc123</body></html>",
			wantDetected: true,
			wantCode:     "BLOCKED",
			wantCategory: CategoryAccessDenied,
			wantDelay:    15000,
		},
		{
			name:         "captcha required",
			status:       403,
			body:         "<html><body>Please complete the CAPTCHA to continue</body></html>",
			wantDetected: true,
			wantCode:     "CAPTCHA_REQUIRED",
			wantCategory: CategoryCaptcha,
			wantDelay:    0,
		},
		{
			name:         "normal 200 response",
			status:       200,
			body:         "<html><body>Hello World</body></html>",
			wantDetected: false,
		},
		{
			name:         "normal 404 response",
			status:       404,
			body:         "<html><body>Page not found</body></html>",
			wantDetected: false,
		},
		{
			name:         "case insensitive access denied",
			status:       403,
			body:         "<html><body>ACCESS DENIED - You cannot access this page</body></html>",
			wantDetected: true,
			wantCode:     "ACCESS_DENIED",
			wantCategory: CategoryAccessDenied,
			wantDelay:    5000,
		},
		{
			name:         "cloudflare mentioned in plain 403",
			status:       403,
			body:         "<html><body>Attention Required! Cloudflare</body></html>",
			wantDetected: true,
			wantCode:     "CF_403",
			wantCategory: CategoryAccessDenied,
			wantDelay:    30000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.status, tt.body)

			if got.Detected != tt.wantDetected {
				t.Errorf("Detected = %v, want %v", got.Detected, tt.wantDetected)
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", got.Category, tt.wantCategory)
			}
			if got.SuggestedDelay != tt.wantDelay {
				t.Errorf("SuggestedDelay = %d, want %d", got.SuggestedDelay, tt.wantDelay)
			}
		})
	}
}

func TestAdjustDelay(t *testing.T) {
	tests := []struct {
		name                        string
		baseDelay, minDelay, maxDelay, want int
	}{
		{"within bounds", 5000, 1000, 30000, 5000},
		{"below minimum", 500, 1000, 30000, 1000},
		{"above maximum", 60000, 1000, 30000, 30000},
		{"at minimum", 1000, 1000, 30000, 1000},
		{"at maximum", 30000, 1000, 30000, 30000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AdjustDelay(tt.baseDelay, tt.minDelay, tt.maxDelay)
			if got != tt.want {
				t.Errorf("AdjustDelay(%d, %d, %d) = %d, want %d", tt.baseDelay, tt.minDelay, tt.maxDelay, got, tt.want)
			}
		})
	}
}
