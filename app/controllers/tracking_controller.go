package controllers

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/cache"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/env"
)

// Transparent 1x1 GIF served to open-tracking pixels.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// HandleTrackOpen records the first open of a message and always answers
// with the pixel. Tracking must never break email rendering, so failures
// are logged and swallowed.
func HandleTrackOpen(c *fiber.Ctx) error {
	caseID := c.Query("caseId")
	step := c.QueryInt("step", -1)

	if caseID != "" && step >= 0 {
		// Redis gates repeat hits from image-proxy prefetchers cheaply; the
		// opened=false guard in the row update is the real arbiter.
		key := fmt.Sprintf("track:open:%s:%d", caseID, step)
		if first, err := cache.SetNX(key, 1, 24*time.Hour); err != nil || first {
			if err := recoveryService().MarkMessageOpened(c.UserContext(), caseID, step); err != nil {
				log.Printf("tracking: open %s step %d: %v", caseID, step, err)
			}
		}
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Send(trackingPixel)
}

// HandleTrackClick records the first click of a message and forwards to the
// recovery landing page.
func HandleTrackClick(c *fiber.Ctx) error {
	caseID := c.Query("caseId")
	step := c.QueryInt("step", -1)
	redirect := c.Query("redirect")

	if caseID != "" && step >= 0 {
		key := fmt.Sprintf("track:click:%s:%d", caseID, step)
		if first, err := cache.SetNX(key, 1, 24*time.Hour); err != nil || first {
			if err := recoveryService().MarkMessageClicked(c.UserContext(), caseID, step); err != nil {
				log.Printf("tracking: click %s step %d: %v", caseID, step, err)
			}
		}
	}

	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/")
	if redirect == "" || !strings.HasPrefix(redirect, base) {
		// Only same-origin targets; anything else is an open redirect.
		redirect = base
	}
	return c.Redirect(redirect, fiber.StatusFound)
}
