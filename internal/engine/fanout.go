package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Outcome 扇出中单个任务的结果，Index与任务下标一一对应
type Outcome[T any] struct {
	Index int
	Value T
	Err   error
}

// FanOut 以受限并发执行n个独立任务，结果按任务下标回填，与完成顺序无关。
// 准入门（加权信号量）是批次内唯一的共享可变资源，只负责计数在途任务。
// 单个任务失败只记录在自己的槽位上，不取消兄弟任务；
// 所有槽位（成功或失败）都落定后才返回，不会悄悄丢弃掉队者。
func FanOut[T any](ctx context.Context, n int, maxConcurrency int64, task func(ctx context.Context, index int) (T, error)) []Outcome[T] {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	outcomes := make([]Outcome[T], n)
	sem := semaphore.NewWeighted(maxConcurrency)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			outcomes[idx].Index = idx
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[idx].Err = err
				return
			}
			defer sem.Release(1)
			v, err := task(ctx, idx)
			// 槽位idx只被任务idx写入
			outcomes[idx].Value = v
			outcomes[idx].Err = err
		}(i)
	}
	wg.Wait()
	return outcomes
}

// CountSuccesses 统计成功槽位数，供阶段级最小成功数策略使用
func CountSuccesses[T any](outcomes []Outcome[T]) int {
	n := 0
	for _, o := range outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}
