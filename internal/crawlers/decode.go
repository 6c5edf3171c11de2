package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/RecoveryAshes/AnalystCrawl/internal/utils"
	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/korean"
)

// decompressResponse 根据Content-Encoding解压响应体
// 请求头显式设置了 Accept-Encoding, net/http 不会自动解压
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(contentEncoding))

	var reader io.Reader
	switch enc {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(bytes.NewReader(body))
		defer fl.Close()
		reader = fl
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%s读取失败: %w", enc, err)
	}
	return decompressed, nil
}

// decodeHTML 将响应体转为UTF-8文本,返回文本和判定的编码名
// 顺序: BOM / Content-Type / <meta> 声明 -> 合法UTF-8 -> EUC-KR
// 韩国券商页面常不声明编码,charset 的 windows-1252 默认值在这里不可用
func decodeHTML(body []byte, contentType string) (string, string, error) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain && name == "windows-1252" {
		if utf8.Valid(body) {
			return string(body), "utf-8", nil
		}
		enc, name = korean.EUCKR, "euc-kr"
	}

	if enc == encoding.Nop || name == "utf-8" {
		return string(body), "utf-8", nil
	}

	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", name, fmt.Errorf("%s解码失败: %w", name, err)
	}
	return string(decoded), name, nil
}
