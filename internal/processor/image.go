package processor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const dataImagePrefix = "data:image"

// Image 远程地址与内嵌图片二选一
type Image struct {
	// URL 非空表示远程图片
	URL string
	// Data/MIME 表示内嵌图片
	Data []byte
	MIME string
}

// Embedded 是否为内嵌图片
func (i Image) Embedded() bool { return i.URL == "" && len(i.Data) > 0 }

// Extension 内嵌图片的文件扩展名，用于上传时命名
func (i Image) Extension() string {
	if ext := mimetype.Lookup(i.MIME); ext != nil {
		return ext.Extension()
	}
	return ".png"
}

// Stored 入库形式：远程地址原样保存，内嵌图片重新编码为 data URI
func (i Image) Stored() string {
	if !i.Embedded() {
		return i.URL
	}
	return fmt.Sprintf("data:%s;base64,%s", i.MIME, base64.StdEncoding.EncodeToString(i.Data))
}

// IsDataImage 按前缀判断是否是内嵌图片
func IsDataImage(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), dataImagePrefix)
}

// ParseImage 按 data:image 前缀区分远程图片与内嵌图片
func ParseImage(s string) (Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Image{}, errors.New("empty image reference")
	}
	if !IsDataImage(s) {
		return Image{URL: s}, nil
	}

	header, payload, ok := strings.Cut(s, ",")
	if !ok {
		return Image{}, errors.New("data uri without payload")
	}
	if !strings.HasSuffix(header, ";base64") {
		return Image{}, errors.New("data uri is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("decode data uri: %w", err)
	}
	if len(data) == 0 {
		return Image{}, errors.New("data uri has empty payload")
	}

	declared := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	// 以实际字节为准，声明类型与内容不符时用探测结果
	detected := mimetype.Detect(data)
	mime := declared
	if !detected.Is(declared) && strings.HasPrefix(detected.String(), "image/") {
		mime = detected.String()
	}
	return Image{Data: data, MIME: mime}, nil
}
