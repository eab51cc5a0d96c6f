package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"prodtrack/config"
	"prodtrack/pkg/circuitbreaker"
	"prodtrack/pkg/metrics"
	"prodtrack/pkg/trace"
)

// StorageClient 外部制品存储服务的 HTTP 客户端。
// 引擎只保留制品描述符，字节本体全部经这里上传到存储服务。
// 存储服务不稳定时由熔断器快速失败，调用方把失败降级为告警。
type StorageClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewStorageClient(cfg config.StorageConfig, log *zap.Logger) *StorageClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StorageClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:  log,
	}
}

type uploadResponse struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// Upload 上传一个文件，返回存储键和字节数
func (c *StorageClient) Upload(ctx context.Context, projectID int64, stage, filename string, r io.Reader) (string, int64, error) {
	start := time.Now()

	var resp uploadResponse
	err := c.breaker.Execute(func() error {
		return c.doUpload(ctx, projectID, stage, filename, r, &resp)
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordStorageCallLatency("upload", status, time.Since(start))

	if err != nil {
		c.logger.Warn("Storage upload failed",
			zap.Int64("project_id", projectID),
			zap.String("stage", stage),
			zap.String("filename", filename),
			zap.Error(err),
		)
		return "", 0, err
	}
	return resp.Key, resp.Size, nil
}

func (c *StorageClient) doUpload(ctx context.Context, projectID int64, stage, filename string, r io.Reader, out *uploadResponse) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	endpoint := fmt.Sprintf("%s/files?project_id=%d&stage=%s", c.baseURL, projectID, url.QueryEscape(stage))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return fmt.Errorf("failed to call storage service: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if tid := trace.FromContext(ctx); tid != "" {
		req.Header.Set(trace.HeaderName(), tid)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call storage service: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		return fmt.Errorf("storage service returned error: status %d", httpResp.StatusCode)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("storage service returned error: %w", err)
	}
	return nil
}

// Delete 删除一个存储键对应的文件。撤回团队上传时调用，尽力而为。
func (c *StorageClient) Delete(ctx context.Context, key string) error {
	start := time.Now()

	err := c.breaker.Execute(func() error {
		endpoint := fmt.Sprintf("%s/files/%s", c.baseURL, url.PathEscape(key))
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to call storage service: %w", err)
		}
		if tid := trace.FromContext(ctx); tid != "" {
			req.Header.Set(trace.HeaderName(), tid)
		}

		httpResp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call storage service: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusNoContent {
			return fmt.Errorf("storage service returned error: status %d", httpResp.StatusCode)
		}
		return nil
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordStorageCallLatency("delete", status, time.Since(start))
	return err
}
