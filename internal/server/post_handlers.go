package server

import (
	"tagapp/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createPostRequest struct {
	UserID            string   `json:"userId"`
	Username          string   `json:"username"`
	VideoURL          string   `json:"videoUrl"`
	Description       string   `json:"description"`
	Hashtags          []string `json:"hashtags"`
	TaggedUsernames   []string `json:"taggedUsernames"`
	TaggedFriends     []string `json:"taggedFriends"`
	TaggedCommunities []string `json:"taggedCommunities"`
	ResponseToPostID  *string  `json:"responseToPostId"`
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req createPostRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	res, err := s.postService.CreatePost(c.UserContext(), service.CreatePostInput{
		UserID:            req.UserID,
		Username:          req.Username,
		VideoURL:          req.VideoURL,
		Description:       req.Description,
		Hashtags:          req.Hashtags,
		TaggedUsernames:   req.TaggedUsernames,
		TaggedFriends:     req.TaggedFriends,
		TaggedCommunities: req.TaggedCommunities,
		ResponseToPostID:  req.ResponseToPostID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// GetPosts handles GET /api/posts
func (s *Server) GetPosts(c *fiber.Ctx) error {
	posts, err := s.postService.ListPosts(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.postService.GetPost(c.UserContext(), param(c, "id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// Interact returns the handler for POST /api/posts/:id/<action>. The acting
// user is named in the body.
func (s *Server) Interact(action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			UserID string `json:"userId"`
		}
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		post, err := s.interactionService.Apply(c.UserContext(), action, param(c, "id"), req.UserID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(post)
	}
}

// CreateComment handles POST /api/posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var req struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
		Text     string `json:"text"`
	}
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	post, err := s.commentService.AddComment(c.UserContext(), service.AddCommentInput{
		PostID:   param(c, "id"),
		UserID:   req.UserID,
		Username: req.Username,
		Text:     req.Text,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetCommunities handles GET /api/communities
func (s *Server) GetCommunities(c *fiber.Ctx) error {
	names, err := s.postService.ListCommunities(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(names)
}

// GetCommunityPosts handles GET /api/communities/:name/posts
func (s *Server) GetCommunityPosts(c *fiber.Ctx) error {
	posts, err := s.postService.CommunityFeed(c.UserContext(), param(c, "name"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}
