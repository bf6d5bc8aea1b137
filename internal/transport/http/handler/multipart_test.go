package handler

import (
	"bytes"
	"mime/multipart"
)

func multipartWriter(body *bytes.Buffer, filename, content string) string {
	mw := multipart.NewWriter(body)
	fw, _ := mw.CreateFormFile("file", filename)
	_, _ = fw.Write([]byte(content))
	_ = mw.WriteField("language", "en")
	_ = mw.Close()
	return mw.FormDataContentType()
}
