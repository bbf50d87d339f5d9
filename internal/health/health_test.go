package health

import (
	"context"
	"errors"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestStatusHealthyWhenBothReachable(t *testing.T) {
	c := New(fakePinger{}, fakePinger{})
	s := c.Status(context.Background())
	if !s.Healthy || !s.Store || !s.Cache {
		t.Fatalf("expected healthy status, got %+v", s)
	}
}

func TestStatusUnhealthyWhenStoreDown(t *testing.T) {
	c := New(fakePinger{err: errors.New("connection refused")}, fakePinger{})
	s := c.Status(context.Background())
	if s.Healthy || s.Store {
		t.Fatalf("expected unhealthy status due to store, got %+v", s)
	}
	if s.StoreErr == "" {
		t.Error("expected StoreErr to be populated")
	}
	if !s.Cache {
		t.Error("expected cache to still report reachable")
	}
}

func TestStatusUnhealthyWhenCacheDown(t *testing.T) {
	c := New(fakePinger{}, fakePinger{err: errors.New("timeout")})
	s := c.Status(context.Background())
	if s.Healthy || s.Cache {
		t.Fatalf("expected unhealthy status due to cache, got %+v", s)
	}
}
