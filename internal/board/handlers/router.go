// Package handlers exposes the board, task, memory, and approval
// endpoints.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/pedrohperalta/openclaw-mission-control/internal/board/service"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

// RegisterRoutes mounts the board API on an authenticated group.
func RegisterRoutes(router *gin.RouterGroup, svc *service.Service, organizationID string, log *logger.Logger) {
	h := NewHandler(svc, organizationID, log)

	boards := router.Group("/boards")
	{
		boards.GET("", h.ListBoards)
		boards.POST("", h.CreateBoard)
		boards.GET("/:boardId", h.GetBoard)
		boards.PATCH("/:boardId", h.UpdateBoard)
		boards.DELETE("/:boardId", h.DeleteBoard)

		boards.GET("/:boardId/tasks", h.ListTasks)
		boards.POST("/:boardId/tasks", h.CreateTask)

		boards.GET("/:boardId/memory", h.ListMemory)
		boards.POST("/:boardId/memory", h.CreateMemory)

		boards.GET("/:boardId/approvals", h.ListApprovals)
		boards.POST("/:boardId/approvals", h.CreateApproval)

		boards.GET("/:boardId/onboarding", h.GetOnboarding)
		boards.PATCH("/:boardId/onboarding", h.UpdateOnboarding)
	}

	tasks := router.Group("/tasks")
	{
		tasks.GET("/:taskId", h.GetTask)
		tasks.PATCH("/:taskId", h.UpdateTask)
		tasks.DELETE("/:taskId", h.DeleteTask)
		tasks.POST("/:taskId/comments", h.CommentOnTask)
		tasks.POST("/:taskId/dependencies", h.AddDependency)
		tasks.DELETE("/:taskId/dependencies/:dependsOnId", h.RemoveDependency)
	}

	approvals := router.Group("/approvals")
	{
		approvals.POST("/:approvalId/resolve", h.ResolveApproval)
	}
}
