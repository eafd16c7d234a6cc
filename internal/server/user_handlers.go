package server

import (
	"tagapp/internal/service"

	"github.com/gofiber/fiber/v2"
)

type profileRequest struct {
	Username string `json:"username"`
	Bio      string `json:"bio"`
}

// Register handles POST /api/users
func (s *Server) Register(c *fiber.Ctx) error {
	var req profileRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	user, err := s.userService.Register(c.UserContext(), service.RegisterInput{
		Username: req.Username,
		Bio:      req.Bio,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

// GetUser handles GET /api/users/:id
func (s *Server) GetUser(c *fiber.Ctx) error {
	user, err := s.userService.GetUser(c.UserContext(), param(c, "id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// UpdateProfile handles PUT /api/users/:id
func (s *Server) UpdateProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	out, err := s.userService.UpdateProfile(c.UserContext(), service.UpdateProfileInput{
		UserID:   param(c, "id"),
		Username: req.Username,
		Bio:      req.Bio,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// GetUserPosts handles GET /api/users/:id/posts
func (s *Server) GetUserPosts(c *fiber.Ctx) error {
	posts, err := s.postService.ListUserPosts(c.UserContext(), param(c, "id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}

// GetUserRank handles GET /api/users/:id/rank
func (s *Server) GetUserRank(c *fiber.Ctx) error {
	rank, err := s.rankService.Rank(c.UserContext(), param(c, "id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rank)
}

// GetInbox handles GET /api/users/:id/inbox
func (s *Server) GetInbox(c *fiber.Ctx) error {
	ns, err := s.inboxService.List(c.UserContext(), param(c, "id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ns)
}
