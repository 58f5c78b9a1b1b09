package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
)

// Starts a container from a built image archive and waits for it to exit.
//
// The archive is imported and unpacked, and a container is created whose
// process comes from the image config: the declared entrypoint runs in the
// declared working directory with the declared environment. The task runs
// with the caller's standard streams attached and host networking, so the
// declared port is reachable on the host. Returns the process exit code.
//
// A missing archive fails with [ErrArtifactNotFound]; the launcher never
// builds, it only runs what a previous build produced.
func (rt *Runtime) Launch(ctx context.Context, path, id, platform string) (int, error) {
	image, err := rt.prepareImage(ctx, path, platform)
	if err != nil {
		return 0, err
	}

	c := &Container{
		client:   rt.client,
		id:       id,
		platform: platform,
	}

	c.remove(ctx)

	ctr, err := c.create(ctx, image)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer ctr.Delete(context.WithoutCancel(ctx), containerd.WithSnapshotCleanup)

	task, err := ctr.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer task.Delete(context.WithoutCancel(ctx), containerd.WithProcessKill)

	statusC, err := task.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := task.Start(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Info("container launched", "id", id, "archive", path)

	select {
	case <-ctx.Done():
		task.Kill(context.WithoutCancel(ctx), syscall.SIGTERM)
		<-statusC
		return 0, ctx.Err()
	case exitStatus := <-statusC:
		code, _, err := exitStatus.Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
		}
		return int(code), nil
	}
}
