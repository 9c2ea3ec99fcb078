// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ravel-chat/ravel/internal/models"
)

const postsFeature = "posts"

const (
	postFeedTTL = 1 * time.Minute
	postTTL     = 5 * time.Minute
)

// PostBackend is the authoritative feed API.
type PostBackend interface {
	Feed(ctx context.Context, page int) ([]models.Post, error)
	Post(ctx context.Context, postID string) (models.Post, error)
	CreatePost(ctx context.Context, post models.Post) error
	React(ctx context.Context, reaction models.Reaction) error
}

// PostService is the cache-aware facade for the feed.
//
// Key schema:
//
//	posts:feed:<page>
//	post:<postID>
type PostService struct {
	svc     *Service
	backend PostBackend
	userID  string
	unbind  []func()
}

// NewPostService builds the facade for the given local user and registers
// its invalidation bindings on the shared channel.
func NewPostService(svc *Service, backend PostBackend, userID string) *PostService {
	ps := &PostService{svc: svc, backend: backend, userID: userID}
	ps.unbind = []func(){
		svc.Bind(models.TypePostCreated, postsFeature, ps.onPostCreated),
		svc.Bind(models.TypePostReaction+":*", postsFeature, ps.onReaction),
	}
	return ps
}

// Close removes the service's channel bindings.
func (ps *PostService) Close() {
	for _, unbind := range ps.unbind {
		unbind()
	}
}

// onPostCreated drops every cached feed page; the new post changes all of
// them (ordering, pagination boundaries).
func (ps *PostService) onPostCreated(*models.Message) []string {
	return []string{"posts:feed:*"}
}

// onReaction drops the affected post; the feed pages embed reaction counts
// too, so they go as well.
func (ps *PostService) onReaction(msg *models.Message) []string {
	keys := []string{"posts:feed:*"}
	if msg.ScopeID != "" {
		keys = append(keys, postKey(msg.ScopeID))
	}
	return keys
}

// Feed returns one page of the feed, cached.
func (ps *PostService) Feed(ctx context.Context, page int) ([]models.Post, error) {
	key := fmt.Sprintf("posts:feed:%d", page)
	return Fetch(ctx, ps.svc, postsFeature, key, postFeedTTL,
		func(ctx context.Context) ([]models.Post, error) {
			return ps.backend.Feed(ctx, page)
		})
}

// Post returns a single post, cached.
func (ps *PostService) Post(ctx context.Context, postID string) (models.Post, error) {
	return Fetch(ctx, ps.svc, postsFeature, postKey(postID), postTTL,
		func(ctx context.Context) (models.Post, error) {
			return ps.backend.Post(ctx, postID)
		})
}

// CreatePost publishes a post and returns it: backend call, feed
// invalidation, then a broadcast emit (no scope; every client's feed is
// affected).
func (ps *PostService) CreatePost(ctx context.Context, body string) (models.Post, error) {
	post := models.Post{
		PostID:    uuid.NewString(),
		AuthorID:  ps.userID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	err := ps.svc.Mutate(ctx, Mutation{
		Feature: postsFeature,
		Call: func(ctx context.Context) error {
			return ps.backend.CreatePost(ctx, post)
		},
		Invalidate:  []string{"posts:feed:*"},
		EmitType:    models.TypePostCreated,
		EmitPayload: post,
	})
	if err != nil {
		return models.Post{}, err
	}
	return post, nil
}

// React applies a reaction optimistically: the cached post's count is bumped
// before the backend call and rolled back if the call fails. A confirmed
// value that lands in between (refetch, remote invalidation) wins over the
// rollback.
func (ps *PostService) React(ctx context.Context, post models.Post, kind string, delta int) error {
	speculative := post
	speculative.Reactions += delta
	rollback := ps.svc.Speculate(postKey(post.PostID), speculative, postTTL)

	reaction := models.Reaction{
		PostID: post.PostID,
		UserID: ps.userID,
		Kind:   kind,
		Delta:  delta,
	}

	err := ps.svc.Mutate(ctx, Mutation{
		Feature: postsFeature,
		Call: func(ctx context.Context) error {
			return ps.backend.React(ctx, reaction)
		},
		// Success drops the speculation too; the next read fetches the
		// confirmed count.
		Invalidate:  []string{postKey(post.PostID), "posts:feed:*"},
		EmitType:    models.TypePostReaction,
		EmitPayload: reaction,
		EmitScope:   post.PostID,
	})
	if err != nil {
		rollback()
		return err
	}
	return nil
}

func postKey(postID string) string {
	return fmt.Sprintf("post:%s", postID)
}
