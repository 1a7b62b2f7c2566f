package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized 表示请求没有可解析的会话身份。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden 表示回调声明的 userId 与会话身份不一致。
	ErrForbidden = errors.New("forbidden: metadata does not match session")
	// ErrNotPDF 表示下载到的内容不是 PDF。
	ErrNotPDF = errors.New("content is not a PDF document")
)

// Stage 标识摄取流水线中的一个步骤。
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageParse  Stage = "parse"
	StageEmbed  Stage = "embed"
	StageUpsert Stage = "upsert"
)

// StageError 记录第一个失败的步骤及其原因。
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// runStage 执行一个步骤，把返回的错误和 panic 都归到该步骤。
func runStage(stage Stage, fn func() error) (failure error) {
	defer func() {
		if r := recover(); r != nil {
			failure = stageErr(stage, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		return stageErr(stage, err)
	}
	return nil
}
