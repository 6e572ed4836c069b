package handlers

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the post and queue endpoints on an authenticated router.
func RegisterRoutes(api fiber.Router, post *PostHandler, q *QueueHandler) {
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/remove", post.RemovePost)
	api.Get("/posts/upcoming", post.UpcomingPosts)
	api.Get("/posts/history", post.PostHistory)
	api.Post("/posts/:id/schedule", post.SchedulePost)
	api.Post("/posts/:id/cancel", post.CancelPost)
	api.Post("/posts/:id/reschedule", post.ReschedulePost)
	api.Post("/posts/:id/publish-now", post.PublishNow)
	api.Post("/posts/:id/retry", post.RetryPost)

	api.Get("/queue/stats", q.Stats)
	api.Get("/schedule/weekly", q.WeeklySchedule)
}
