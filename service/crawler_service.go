package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"evolabeler/config"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCrawlerDownloadDir = "downloads"
	DefaultCrawlLimitPerQuery = 10

	bingImageSearchURL = "https://www.bing.com/images/search?q=%s"

	crawlPageLoadDelay  = 2 * time.Second
	crawlDownloadDelay  = 500 * time.Millisecond
	imageRequestTimeout = 15 * time.Second

	// 同时打开的搜索标签页上限
	maxConcurrentQueries = 3
)

var ErrCrawlQueriesEmpty = errors.New("crawl queries are empty")

// CrawlerService 用无头浏览器驱动图片搜索引擎抓取图片，实现 AcquisitionSource。
// 返回数量可以少于请求数量，抓不到是合法结果而不是错误。
type CrawlerService struct {
	DownloadDir string
	Headless    bool
	httpClient  *http.Client

	// 为空时使用 searchAndDownload，测试可注入
	searchFn func(ctx context.Context, query string, limit int) ([]string, error)
}

func NewCrawlerService() *CrawlerService {
	downloadDir := DefaultCrawlerDownloadDir
	headless := true
	if config.AppConfig != nil {
		if strings.TrimSpace(config.AppConfig.Crawler.DownloadDir) != "" {
			downloadDir = config.AppConfig.Crawler.DownloadDir
		}
		headless = config.AppConfig.Crawler.Headless
	}

	return &CrawlerService{
		DownloadDir: downloadDir,
		Headless:    headless,
		httpClient: &http.Client{
			Timeout: imageRequestTimeout,
		},
	}
}

// FetchImages 按关键词搜索并下载图片，返回本地文件路径。
// 关键词在各自的浏览器标签页里并发抓取，单个关键词失败只记日志，
// 不影响其余关键词。
func (s *CrawlerService) FetchImages(ctx context.Context, queries []string, limitPerQuery int) ([]string, error) {
	logger := serviceLogger().With("service", "CrawlerService", "method", "FetchImages")

	if len(queries) == 0 {
		logger.Warn("fetch images failed: queries are empty")
		return nil, ErrCrawlQueriesEmpty
	}
	if limitPerQuery <= 0 {
		limitPerQuery = DefaultCrawlLimitPerQuery
	}
	if err := os.MkdirAll(s.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir failed: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	search := s.searchFn
	if search == nil {
		search = s.searchAndDownload
	}

	perQuery := make([][]string, len(queries))
	group, groupCtx := errgroup.WithContext(browserCtx)
	group.SetLimit(maxConcurrentQueries)
	for i, query := range queries {
		i, query := i, query
		group.Go(func() error {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			default:
			}

			tabCtx, cancelTab := chromedp.NewContext(browserCtx)
			defer cancelTab()

			paths, err := search(tabCtx, query, limitPerQuery)
			if err != nil {
				logger.Warn("search and download failed", "query", query, "error", err)
				return nil
			}
			perQuery[i] = paths
			return nil
		})
	}
	waitErr := group.Wait()

	var downloaded []string
	for _, paths := range perQuery {
		downloaded = append(downloaded, paths...)
	}
	if waitErr != nil {
		return downloaded, waitErr
	}

	logger.Info("crawl finished",
		"query_count", len(queries),
		"image_count", len(downloaded),
	)
	return downloaded, nil
}

// searchAndDownload 打开搜索结果页，提取缩略图地址并下载。
func (s *CrawlerService) searchAndDownload(browserCtx context.Context, query string, limit int) ([]string, error) {
	logger := serviceLogger().With("service", "CrawlerService", "method", "searchAndDownload", "query", query)

	searchURL := fmt.Sprintf(bingImageSearchURL, url.QueryEscape(query))

	var srcs []string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(searchURL),
		chromedp.Sleep(crawlPageLoadDelay),
		chromedp.Evaluate(`Array.from(document.querySelectorAll("img.mimg")).map(n => n.src)`, &srcs),
	)
	if err != nil {
		return nil, fmt.Errorf("load search page failed: %w", err)
	}

	var paths []string
	for _, src := range srcs {
		if len(paths) >= limit {
			break
		}
		if src == "" || strings.HasPrefix(src, "data:") {
			continue
		}

		localPath, err := s.downloadImage(browserCtx, src)
		if err != nil {
			logger.Warn("download image failed", "url", src, "error", err)
			continue
		}
		paths = append(paths, localPath)

		select {
		case <-browserCtx.Done():
			return paths, browserCtx.Err()
		case <-time.After(crawlDownloadDelay):
		}
	}

	logger.Info("query crawl finished", "found", len(srcs), "downloaded", len(paths))
	return paths, nil
}

func (s *CrawlerService) downloadImage(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build image request failed: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request image failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected image status: %d", resp.StatusCode)
	}

	digest := md5.Sum([]byte(imageURL))
	localPath := filepath.Join(s.DownloadDir, hex.EncodeToString(digest[:])[:16]+".jpg")

	dst, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local image file failed: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return "", fmt.Errorf("write local image file failed: %w", err)
	}
	return localPath, nil
}
