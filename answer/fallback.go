package answer

import (
	"fmt"
	"strings"
)

var topicPrefixes = []string{
	"can you please explain about ",
	"can you explain about ",
	"can you please explain ",
	"can you explain ",
	"could you explain ",
	"please explain ",
	"explain ",
	"what is ",
	"what are ",
	"how does ",
	"how do ",
	"tell me about ",
}

// Topic strips common question lead-ins, returning "this topic" when nothing is left.
func Topic(question string) string {
	text := strings.TrimRight(strings.TrimSpace(question), "?.!")
	if text == "" {
		return "this topic"
	}
	lowered := strings.ToLower(text)
	topic := text
	for _, prefix := range topicPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			topic = strings.TrimSpace(text[len(prefix):])
			break
		}
	}
	topic = strings.Trim(topic, " .,:;!?-")
	if topic == "" {
		return "this topic"
	}
	return topic
}

// Fallback builds a deterministic suggestion used when generation times out or fails.
func Fallback(question string) string {
	topic := Topic(question)
	t := strings.ToLower(topic)

	switch {
	case strings.Contains(t, "aws ecs") || strings.Contains(t, "elastic container service"):
		return lines(
			"AWS ECS is AWS's managed container orchestration service for running Docker workloads without managing control-plane infrastructure.",
			"- I use ECS when the team wants fast deployment, IAM integration, CloudWatch logging, and predictable ops on AWS.",
			"- Typical setup: task definitions, ECS services behind an ALB, autoscaling on CPU/request count, and ECR for images.",
			"- Concrete impact example: moving a monolith API to ECS Fargate reduced deploy time from ~20 min to ~5 min and improved peak stability during 2x traffic events.",
			"- Trade-off: ECS is excellent for AWS-native simplicity; for multi-cloud portability or advanced Kubernetes ecosystem needs, EKS can be a better fit.",
		)
	case strings.Contains(t, "system design"):
		return lines(
			"I would answer this with a clear architecture, scaling path, and reliability plan.",
			"- Start with core components, request flow, and storage decisions.",
			"- Add scaling strategy (caching, async workers, partitioning) with concrete thresholds.",
			"- Include reliability targets (SLO, retries, circuit breakers, observability).",
			"- Trade-off: optimize first for correctness and operability, then for cost once traffic patterns are stable.",
		)
	case strings.Contains(t, "conflict"):
		return lines(
			"I handle conflict by aligning on goals, clarifying constraints, and driving to an evidence-based decision.",
			"- First, I listen to each perspective and restate the shared objective.",
			"- Then I compare options using impact, risk, and delivery timeline.",
			"- Example: two teams disagreed on release scope; we prioritized a phased rollout and reduced post-release defects by ~30%.",
			"- Trade-off: phased delivery may delay some features, but it lowers execution risk and improves team alignment.",
		)
	case strings.Contains(t, "java") && strings.Contains(t, "inheritance"):
		return lines(
			"Java inheritance lets a child class reuse and extend behavior from a parent class, which improves code reuse and design consistency.",
			"- In practice, I use inheritance when there is a clear 'is-a' relationship, like `SavingsAccount` extending `Account`.",
			"- Example: shared validation and logging in a base class reduced duplicate service code by ~25% in one backend module.",
			"- Key interview point: prefer composition when inheritance chains become deep or rigid.",
			"- Trade-off: inheritance speeds reuse, but overuse can increase coupling and make refactoring harder.",
		)
	}

	return lines(
		fmt.Sprintf("%s is an important concept, and I would answer it with a direct definition plus one concrete production example.", topic),
		"- First, define it in plain language in one sentence.",
		"- Then explain where it is used in real systems and why it matters.",
		"- Add one measurable example (performance, reliability, cost, or developer productivity).",
		"- Close with a practical trade-off and when you would choose an alternative.",
	)
}

func lines(l ...string) string { return strings.Join(l, "\n") }
