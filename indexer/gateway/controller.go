package gateway

import (
	"context"
	"io"
	"time"

	"github.com/0glabs/0g-dirview/indexer"
	"github.com/0glabs/0g-dirview/sorting"
	"github.com/0glabs/0g-dirview/tree"
	"github.com/gin-gonic/gin"
)

const maxWait = 30 * time.Second

type handleParam struct {
	Handle uint64 `form:"handle" binding:"required"`
}

type childrenParam struct {
	Handle uint64 `form:"handle"` // root if omitted
	Load   bool   `form:"load"`
	Wait   bool   `form:"wait"`
}

type resolveParam struct {
	Path string `form:"path" binding:"required"`
}

type sortParam struct {
	Key       string `json:"key" binding:"required,oneof=name size kind type mtime modified time"`
	Direction string `json:"direction" binding:"omitempty,oneof=asc desc ascending descending"`
}

// Children is the response of a children query. Entries holds the metadata
// of Handles, in order.
type Children struct {
	Handles []tree.Handle   `json:"handles"`
	Entries []tree.Metadata `json:"entries"`
	State   tree.LoadState  `json:"state"`
	Pending bool            `json:"pending"`
	Error   string          `json:"error,omitempty"`
}

// Metadata adds the error texts hidden from the tree.Metadata encoding.
type Metadata struct {
	tree.Metadata
	Degraded string `json:"degraded,omitempty"`
	LoadErr  string `json:"loadError,omitempty"`
}

type RestController struct {
	index indexer.Interface
}

func NewRestController(index indexer.Interface) *RestController {
	return &RestController{index}
}

func (ctrl *RestController) getRoot(c *gin.Context) (interface{}, error) {
	return ctrl.metadataOf(ctrl.index.Root())
}

func (ctrl *RestController) getMetadata(c *gin.Context) (interface{}, error) {
	var input handleParam
	if err := c.ShouldBindQuery(&input); err != nil {
		return nil, err
	}

	return ctrl.metadataOf(tree.Handle(input.Handle))
}

func (ctrl *RestController) getChildren(c *gin.Context) (interface{}, error) {
	var input childrenParam
	if err := c.ShouldBindQuery(&input); err != nil {
		return nil, err
	}

	handle := tree.Handle(input.Handle)
	if handle == tree.InvalidHandle {
		handle = ctrl.index.Root()
	}

	if input.Wait {
		ctx, cancel := context.WithTimeout(c.Request.Context(), maxWait)
		defer cancel()

		if _, err := ctrl.index.Wait(ctx, handle); err != nil {
			return nil, toBusinessError(err)
		}
	}

	result, err := ctrl.index.Children(handle, input.Load || input.Wait)
	if err != nil {
		return nil, toBusinessError(err)
	}

	children := Children{
		Handles: result.Handles,
		Entries: make([]tree.Metadata, 0, len(result.Handles)),
		State:   result.State,
		Pending: result.Pending,
	}

	if result.Err != nil {
		children.Error = result.Err.Error()
	}

	for _, child := range result.Handles {
		md, err := ctrl.index.Metadata(child)
		if err != nil {
			// removed since the query
			continue
		}
		children.Entries = append(children.Entries, md)
	}

	return children, nil
}

func (ctrl *RestController) resolve(c *gin.Context) (interface{}, error) {
	var input resolveParam
	if err := c.ShouldBindQuery(&input); err != nil {
		return nil, err
	}

	handle, err := ctrl.index.Resolve(input.Path)
	if err != nil {
		return nil, toBusinessError(err)
	}

	return ctrl.metadataOf(handle)
}

func (ctrl *RestController) getStats(c *gin.Context) (interface{}, error) {
	return ctrl.index.Stats(), nil
}

func (ctrl *RestController) setSort(c *gin.Context) (interface{}, error) {
	var input sortParam
	if err := c.ShouldBindJSON(&input); err != nil {
		return nil, err
	}

	key, err := sorting.ParseKey(input.Key)
	if err != nil {
		return nil, err
	}

	direction, err := sorting.ParseDirection(input.Direction)
	if err != nil {
		return nil, err
	}

	changed, err := ctrl.index.SetSort(key, direction)
	if err != nil {
		return nil, toBusinessError(err)
	}

	return gin.H{"changed": changed}, nil
}

func (ctrl *RestController) reload(c *gin.Context) (interface{}, error) {
	var input handleParam
	if err := c.ShouldBindQuery(&input); err != nil {
		return nil, err
	}

	result, err := ctrl.index.Reload(tree.Handle(input.Handle))
	if err != nil {
		return nil, toBusinessError(err)
	}

	return gin.H{"pending": result.Pending}, nil
}

func (ctrl *RestController) unload(c *gin.Context) (interface{}, error) {
	var input handleParam
	if err := c.ShouldBindQuery(&input); err != nil {
		return nil, err
	}

	return nil, toBusinessError(ctrl.index.Unload(tree.Handle(input.Handle)))
}

// streamEvents sends tree change events as server-sent events until the
// client goes away.
func (ctrl *RestController) streamEvents(c *gin.Context) {
	sub := ctrl.index.Subscribe()
	defer sub.Close()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(event.Type.String(), event)
			return true
		}
	})
}

func (ctrl *RestController) metadataOf(handle tree.Handle) (interface{}, error) {
	md, err := ctrl.index.Metadata(handle)
	if err != nil {
		return nil, toBusinessError(err)
	}

	result := Metadata{Metadata: md}
	if md.Degraded != nil {
		result.Degraded = md.Degraded.Error()
	}
	if md.LoadErr != nil {
		result.LoadErr = md.LoadErr.Error()
	}

	return result, nil
}
