// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package reload_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/libreload/internal/libname"
	"github.com/holomush/libreload/pkg/reload"
	"github.com/holomush/libreload/pkg/reload/reloadtest"
)

const debounce = 150 * time.Millisecond

// testEnv holds a Manager wired to a real filesystem watcher and a fake
// loader, so change detection is real but no native code is loaded.
type testEnv struct {
	ctx    context.Context
	srcDir string
	loader *reloadtest.Loader
	m      *reload.Manager
}

func setupTestEnv(adjust ...func(*reload.Config)) *testEnv {
	env := &testEnv{
		ctx:    context.Background(),
		srcDir: GinkgoT().TempDir(),
		loader: reloadtest.NewLoader(),
	}

	cfg := reload.DefaultConfig()
	cfg.SearchPaths = []string{env.srcDir}
	cfg.ShadowRoot = GinkgoT().TempDir()
	cfg.Debounce = debounce
	for _, fn := range adjust {
		fn(&cfg)
	}

	m, err := reload.New(cfg,
		reload.WithLoader(env.loader),
		reload.WithLogger(slog.New(slog.NewTextHandler(GinkgoWriter, nil))),
		reload.WithExecutable(func() (string, error) { return "", errors.New("none") }),
	)
	Expect(err).NotTo(HaveOccurred())
	Expect(m.Watching()).To(BeTrue())
	env.m = m
	DeferCleanup(m.Close)
	return env
}

func (e *testEnv) path(logical string) string {
	return filepath.Join(e.srcDir, libname.Name(libname.Current(), libname.Format, logical))
}

func (e *testEnv) write(logical, body string) {
	Expect(reloadtest.WriteLibrary(e.path(logical), body)).To(Succeed())
}

// pollUntil polls until at least one reload has been attempted.
func (e *testEnv) pollUntil(h reload.Handler) {
	Eventually(func() int {
		return e.m.PollForReloads(e.ctx, h)
	}).WithTimeout(5 * time.Second).WithPolling(20 * time.Millisecond).Should(BeNumerically(">", 0))
}

func bodyOf(loader *reloadtest.Loader, lib *reload.Library) string {
	for _, h := range loader.Opened() {
		if h.Path() == lib.LoadedPath() {
			return h.Body()
		}
	}
	return ""
}

var _ = Describe("Manager with a filesystem watcher", func() {
	var env *testEnv

	BeforeEach(func() {
		env = setupTestEnv()
	})

	Describe("loading", func() {
		It("loads from a shadow copy and leaves the original in place", func() {
			env.write("alpha", "v1")

			lib, err := env.m.AddLibrary(env.ctx, "alpha", reload.PlatformName)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(lib.Release)

			original, ok := lib.OriginalPath()
			Expect(ok).To(BeTrue())
			Expect(original).To(Equal(env.path("alpha")))
			Expect(filepath.Dir(lib.LoadedPath())).To(Equal(env.m.ShadowDir()))
			Expect(lib.LoadedPath()).To(BeARegularFile())

			// The original stays writable while the copy is loaded.
			Expect(os.Remove(original)).To(Succeed())
			Expect(lib.LoadedPath()).To(BeARegularFile())
		})
	})

	Describe("reloading", func() {
		It("emits Before then After when the source is rewritten", func() {
			env.write("alpha", "v1")
			lib, err := env.m.AddLibrary(env.ctx, "alpha", reload.PlatformName)
			Expect(err).NotTo(HaveOccurred())

			rec := &reloadtest.Recorder{}
			rec.Keep(lib)

			env.write("alpha", "v2")
			env.pollUntil(rec)

			Expect(rec.Phases()).To(Equal([]reload.Phase{reload.Before, reload.After}))
			fresh := rec.Calls()[1].Library
			Expect(fresh.Equal(lib)).To(BeTrue())
			Expect(fresh.LoadedPath()).NotTo(Equal(lib.LoadedPath()))
			Expect(bodyOf(env.loader, fresh)).To(Equal("v2"))
			Expect(lib.Loaded()).To(BeFalse())
			Expect(lib.LoadedPath()).NotTo(BeAnExistingFile(), "released shadow copies are removed")
		})

		It("coalesces a burst of writes into one reload", func() {
			env.write("alpha", "v1")
			lib, err := env.m.AddLibrary(env.ctx, "alpha", reload.PlatformName)
			Expect(err).NotTo(HaveOccurred())
			rec := &reloadtest.Recorder{}
			rec.Keep(lib)

			for _, body := range []string{"v2", "v3", "v4", "v5"} {
				env.write("alpha", body)
				time.Sleep(debounce / 5)
			}
			env.pollUntil(rec)

			Consistently(func() int {
				return env.m.PollForReloads(env.ctx, rec)
			}).WithTimeout(2 * debounce).WithPolling(20 * time.Millisecond).Should(BeZero())

			Expect(rec.Phases()).To(Equal([]reload.Phase{reload.Before, reload.After}))
			Expect(bodyOf(env.loader, rec.Calls()[1].Library)).To(Equal("v5"))
		})

		It("reports ReloadFailed and forgets the library when the new file is invalid", func() {
			env.write("alpha", "v1")
			lib, err := env.m.AddLibrary(env.ctx, "alpha", reload.PlatformName)
			Expect(err).NotTo(HaveOccurred())
			rec := &reloadtest.Recorder{}
			rec.Keep(lib)

			Expect(os.WriteFile(env.path("alpha"), []byte("not a library"), 0o600)).To(Succeed())
			env.pollUntil(rec)

			calls := rec.Calls()
			Expect(rec.Phases()).To(Equal([]reload.Phase{reload.Before, reload.ReloadFailed}))
			Expect(reload.ErrorCode(calls[1].Err)).To(Equal(reload.CodeLoad))
			Expect(env.m.Libraries()).To(BeEmpty())
		})

		It("ignores changes to files it does not track", func() {
			env.write("alpha", "v1")
			lib, err := env.m.AddLibrary(env.ctx, "alpha", reload.PlatformName)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(lib.Release)

			Expect(os.WriteFile(filepath.Join(env.srcDir, "notes.txt"), []byte("hello"), 0o600)).To(Succeed())

			Consistently(func() int {
				return env.m.PollForReloads(env.ctx, nil)
			}).WithTimeout(3 * debounce).WithPolling(20 * time.Millisecond).Should(BeZero())
		})

		It("signals Events once a change is ready", func() {
			env.write("alpha", "v1")
			lib, err := env.m.AddLibrary(env.ctx, "alpha", reload.PlatformName)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(lib.Release)

			env.write("alpha", "v2")
			Eventually(env.m.Events()).WithTimeout(5 * time.Second).Should(Receive())
			Expect(env.m.PollForReloads(env.ctx, nil)).To(Equal(1))
		})
	})

	Describe("closing", func() {
		It("removes the shadow directory", func() {
			env.write("alpha", "v1")
			_, err := env.m.AddLibrary(env.ctx, "alpha", reload.PlatformName)
			Expect(err).NotTo(HaveOccurred())
			dir := env.m.ShadowDir()

			Expect(env.m.Close()).To(Succeed())
			Expect(dir).NotTo(BeADirectory())
			Expect(env.m.Watching()).To(BeFalse())
		})
	})
})

var _ = Describe("Manager with never-unload", func() {
	It("keeps every generation mapped", func() {
		env := setupTestEnv(func(cfg *reload.Config) { cfg.NeverUnload = true })
		env.write("alpha", "v1")
		lib, err := env.m.AddLibrary(env.ctx, "alpha", reload.PlatformName)
		Expect(err).NotTo(HaveOccurred())
		rec := &reloadtest.Recorder{}
		rec.Keep(lib)

		env.write("alpha", "v2")
		env.pollUntil(rec)

		Expect(lib.Loaded()).To(BeTrue())
		Expect(env.loader.Live()).To(HaveLen(2))
	})
})
