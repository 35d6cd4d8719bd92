package vector

import (
	"errors"
	"math"
	"strings"
	"unicode"
)

// ErrDimensionMismatch 表示参与比较的两个向量维度不一致。
var ErrDimensionMismatch = errors.New("向量维度不一致")

// CosineSimilarity 计算两个向量的余弦相似度并截断到 [0, 1]。
// 任一向量模长为 0 时按 0 处理，避免除零。
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0, nil
	}
	if sim > 1 {
		return 1, nil
	}
	return sim, nil
}

// KeywordScore 对文本做简单的词频打分：命中关键词的出现次数占总词数的比例，
// 再按命中关键词的覆盖率加权。结果落在 [0, 1]。
func KeywordScore(text string, keywords []string) float64 {
	if text == "" || len(keywords) == 0 {
		return 0
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}

	matched := 0
	occurrences := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if c, ok := counts[kw]; ok && c > 0 {
			matched++
			occurrences += c
		}
	}
	if matched == 0 {
		return 0
	}

	tf := float64(occurrences) / float64(len(tokens))
	if tf > 1 {
		tf = 1
	}
	coverage := float64(matched) / float64(len(keywords))
	return tf * coverage
}

// tokenize 做小写化并按非字母数字（保留 CJK 文字）切分。
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
