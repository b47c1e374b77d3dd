package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/recon3d/docs.go`.
//
// @title           recon3d API
// @version         1.0
// @description     HTTP API for multi-view 3D reconstruction into point clouds.
//
// @contact.name   recon3d maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
