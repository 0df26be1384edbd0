package app

import (
	httpMW "github.com/spriteforge/spriteforge-backend/internal/http/middleware"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

func (a *App) wireMiddleware() error {
	auth, err := httpMW.NewAuthMiddleware(a.Log)
	if err != nil {
		return err
	}
	a.Middleware = &Middleware{Auth: auth}
	return nil
}
