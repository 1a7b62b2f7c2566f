package model

// PageDocument 是 PDF 单页解析后的内存表示，只在一次摄取过程中存在，不落库。
type PageDocument struct {
	PageContent string       `json:"pageContent"`
	Metadata    PageMetadata `json:"metadata"`
}

// PageMetadata 记录页面在源文件中的位置。
type PageMetadata struct {
	Source     string `json:"source"`
	PageNumber int    `json:"pageNumber"` // 从 1 开始
	TotalPages int    `json:"totalPages"`
}

// Payload 展开为向量索引可存储的扁平元数据。
func (m PageMetadata) Payload() map[string]any {
	return map[string]any{
		"source":     m.Source,
		"pageNumber": m.PageNumber,
		"totalPages": m.TotalPages,
	}
}
