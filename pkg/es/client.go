// Package es 提供了与 Elasticsearch 交互的客户端功能。
// 它维护一份文档分块预览的全文镜像，仅作为账本检索的补充视图。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ledgerbase-go/internal/config"
	"ledgerbase-go/pkg/log"
)

var ESClient *elasticsearch.Client

// PreviewDoc 是索引到全文镜像中的分块预览文档。
type PreviewDoc struct {
	DocID          string `json:"doc_id"`
	ChunkIndex     int    `json:"chunk_index"`
	ContentPreview string `json:"content_preview"`
	OwnerID        string `json:"owner_id"`
	LedgerAddress  string `json:"ledger_address"`
}

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := `{
		"mappings": {
			"properties": {
				"doc_id": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"content_preview": { "type": "text" },
				"owner_id": { "type": "keyword" },
				"ledger_address": { "type": "keyword" }
			}
		}
	}`

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)

	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexPreview 将单个分块预览写入全文镜像。文档 ID 用 docId#chunk 保证幂等。
func IndexPreview(ctx context.Context, indexName string, doc PreviewDoc) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: fmt.Sprintf("%s#%d", doc.DocID, doc.ChunkIndex),
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引预览文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index preview document")
	}

	return nil
}

// KeywordSearch 在全文镜像上做 match 查询，返回命中的预览文档。
func KeywordSearch(ctx context.Context, indexName, keyword, ownerID string, limit int) ([]PreviewDoc, error) {
	must := []map[string]interface{}{
		{"match": map[string]interface{}{"content_preview": keyword}},
	}
	if ownerID != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"owner_id": ownerID},
		})
	}
	query := map[string]interface{}{
		"size":  limit,
		"query": map[string]interface{}{"bool": map[string]interface{}{"must": must}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(indexName),
		ESClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("全文镜像查询出错: %s", res.String())
		return nil, errors.New("failed to search preview index")
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source PreviewDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	docs := make([]PreviewDoc, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		docs = append(docs, h.Source)
	}
	return docs, nil
}
