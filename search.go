/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package repay

import (
	"context"
	"fmt"

	"github.com/typesense/typesense-go/typesense/api"

	"github.com/blnkfinance/repay/internal/search"
)

// Search performs a search on the specified collection using the provided query parameters.
//
// Parameters:
// - ctx context.Context: The context for the request.
// - collection string: The name of the collection to search.
// - query *api.SearchCollectionParams: The search query parameters.
//
// Returns:
// - *api.SearchResult: The search results.
// - error: An error if search is not configured, the collection is unknown, or the search fails.
func (r *Repay) Search(ctx context.Context, collection string, query *api.SearchCollectionParams) (*api.SearchResult, error) {
	if r.search == nil {
		return nil, ErrSearchNotConfigured
	}
	if !search.IsCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return r.search.Search(ctx, collection, query)
}

// MultiSearch performs a multi-search operation across collections.
func (r *Repay) MultiSearch(ctx context.Context, searchParams *api.MultiSearchSearchesParameter) (*api.MultiSearchResult, error) {
	if r.search == nil {
		return nil, ErrSearchNotConfigured
	}
	return r.search.MultiSearch(ctx, *searchParams)
}
