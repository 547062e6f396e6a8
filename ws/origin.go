package ws

import (
	"net/http"
	"net/url"
	"os"
	"strings"
)

const CheckOriginEnv = "OURLIBRARY_WS_CHECK_ORIGIN"

// CheckOrigin 默认放行，本地界面外壳通常不带 Origin。
// 设置 OURLIBRARY_WS_CHECK_ORIGIN=true 后要求 Origin 与 Host 一致
func CheckOrigin(r *http.Request) bool {
	if !strings.EqualFold(os.Getenv(CheckOriginEnv), "true") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	originUrl, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return originUrl.Host == r.Host
}
