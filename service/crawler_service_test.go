package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrawlerServiceFetchImagesRejectsEmptyQueries(t *testing.T) {
	svc := &CrawlerService{DownloadDir: t.TempDir()}

	_, err := svc.FetchImages(context.Background(), nil, 10)
	assert.ErrorIs(t, err, ErrCrawlQueriesEmpty)
}

func TestCrawlerServiceFetchImagesFansOutQueries(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	svc := &CrawlerService{
		DownloadDir: t.TempDir(),
		searchFn: func(ctx context.Context, query string, limit int) ([]string, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			defer func() {
				mu.Lock()
				inFlight--
				mu.Unlock()
			}()

			assert.Equal(t, 4, limit)
			return []string{fmt.Sprintf("downloads/%s_1.jpg", query)}, nil
		},
	}

	queries := []string{"q1", "q2", "q3", "q4", "q5"}
	images, err := svc.FetchImages(context.Background(), queries, 4)

	assert.NoError(t, err)
	// 结果按关键词原始顺序聚合
	assert.Equal(t, []string{
		"downloads/q1_1.jpg",
		"downloads/q2_1.jpg",
		"downloads/q3_1.jpg",
		"downloads/q4_1.jpg",
		"downloads/q5_1.jpg",
	}, images)
	assert.LessOrEqual(t, maxInFlight, maxConcurrentQueries)
}

func TestCrawlerServiceFetchImagesToleratesFailedQuery(t *testing.T) {
	svc := &CrawlerService{
		DownloadDir: t.TempDir(),
		searchFn: func(ctx context.Context, query string, limit int) ([]string, error) {
			if query == "broken" {
				return nil, errors.New("load search page failed: timeout")
			}
			return []string{"downloads/" + query + ".jpg"}, nil
		},
	}

	images, err := svc.FetchImages(context.Background(), []string{"plane", "broken", "ship"}, 2)

	assert.NoError(t, err)
	assert.Equal(t, []string{"downloads/plane.jpg", "downloads/ship.jpg"}, images)
}
