package luxor

import (
	"context"
	"errors"
	"time"
)

// Run polls the controller until ctx is cancelled. The first poll happens
// after RefreshDelay, later ones every PollInterval; a mutation schedules an
// extra refresh. Poll errors are logged and never stop the loop. When the
// client owns its queue, Run also drains it.
func (c *Client) Run(ctx context.Context) error {
	if c.ownsQueue {
		go c.queue.Run(ctx)
	}

	c.logger.Info().
		Str("ip", c.opts.IP).
		Dur("poll_interval", c.opts.PollInterval).
		Msg("Controller polling started")

	timer := time.NewTimer(c.opts.RefreshDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Controller polling stopped")
			return nil

		case <-timer.C:
			c.poll(ctx, false)
			timer.Reset(c.opts.PollInterval)

		case <-c.refresh:
			c.poll(ctx, true)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.opts.PollInterval)
		}
	}
}

func (c *Client) poll(ctx context.Context, force bool) {
	err := c.UpdateLights(ctx, force)
	c.metrics.ObservePoll(err)
	if err != nil && ctx.Err() == nil {
		c.logger.Error().Err(err).Msg("Poll failed")
	}
}

// UpdateLights refreshes groups, themes and (on color controllers) the
// palette, then notifies callbacks whose values changed. force bypasses the
// cache.
func (c *Client) UpdateLights(ctx context.Context, force bool) error {
	if force {
		c.invalidate()
	}

	var errs []error
	if _, err := c.GroupListGet(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ThemeListGet(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.dialect.SupportsColor() {
		if _, err := c.ColorListGet(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.callbacks.Exec(c.Snapshot())
	return errors.Join(errs...)
}

// scheduleRefresh requests a forced poll after RefreshDelay.
func (c *Client) scheduleRefresh() {
	time.AfterFunc(c.opts.RefreshDelay, func() {
		select {
		case c.refresh <- struct{}{}:
		default:
		}
	})
}
